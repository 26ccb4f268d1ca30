package wsnet

import "github.com/sarchlab/gompi/comm"

// frame is the JSON form of a message on a WebSocket connection.
type frame struct {
	ID      string `json:"id"`
	Src     int    `json:"src"`
	Dst     int    `json:"dst"`
	Tag     int    `json:"tag"`
	Codec   string `json:"codec"`
	Payload []byte `json:"payload"`
}

func frameOf(msg *comm.Msg) frame {
	return frame{
		ID:      msg.ID,
		Src:     int(msg.Src),
		Dst:     int(msg.Dst),
		Tag:     int(msg.Tag),
		Codec:   msg.Codec,
		Payload: msg.Payload,
	}
}

func (f frame) msg() *comm.Msg {
	msg := &comm.Msg{
		Codec:   f.Codec,
		Payload: f.Payload,
	}
	msg.ID = f.ID
	msg.Src = comm.Rank(f.Src)
	msg.Dst = comm.Rank(f.Dst)
	msg.Tag = comm.Tag(f.Tag)
	msg.TrafficBytes = len(f.Payload)

	return msg
}
