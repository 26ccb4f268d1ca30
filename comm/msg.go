package comm

// MsgMeta contains the meta data that is attached to every message.
type MsgMeta struct {
	ID           string
	Src, Dst     Rank
	Tag          Tag
	TrafficBytes int
}

// A Msg is a payload in flight between two ranks. A Msg must not be modified
// after it is handed to a transport.
type Msg struct {
	MsgMeta

	// Codec names the codec that encoded the payload.
	Codec   string
	Payload []byte
}

func (m *Msg) channel() channel {
	return channel{src: m.Src, tag: m.Tag}
}

// MsgBuilder can build messages.
type MsgBuilder struct {
	src, dst Rank
	tag      Tag
	codec    string
	payload  []byte
}

// WithSrc sets the source rank of the message.
func (b MsgBuilder) WithSrc(src Rank) MsgBuilder {
	b.src = src
	return b
}

// WithDst sets the destination rank of the message.
func (b MsgBuilder) WithDst(dst Rank) MsgBuilder {
	b.dst = dst
	return b
}

// WithTag sets the tag of the message.
func (b MsgBuilder) WithTag(tag Tag) MsgBuilder {
	b.tag = tag
	return b
}

// WithPayload sets the encoded payload and the name of the codec that
// produced it.
func (b MsgBuilder) WithPayload(codecName string, payload []byte) MsgBuilder {
	b.codec = codecName
	b.payload = payload

	return b
}

// Build creates a new message.
func (b MsgBuilder) Build() *Msg {
	return &Msg{
		MsgMeta: MsgMeta{
			ID:           GetIDGenerator().Generate(),
			Src:          b.src,
			Dst:          b.dst,
			Tag:          b.tag,
			TrafficBytes: len(b.payload),
		},
		Codec:   b.codec,
		Payload: b.payload,
	}
}
