package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/gompi/comm"
)

type sampleComm struct {
	CommName string
	RankID   comm.Rank
	Counters comm.Stats
	Queues   []comm.QueueLevel
	Pending  []comm.RequestInfo
}

func (c *sampleComm) Name() string                        { return c.CommName }
func (c *sampleComm) Rank() comm.Rank                     { return c.RankID }
func (c *sampleComm) Size() int                           { return 4 }
func (c *sampleComm) PendingRequests() []comm.RequestInfo { return c.Pending }
func (c *sampleComm) QueueLevels() []comm.QueueLevel      { return c.Queues }
func (c *sampleComm) Stats() comm.Stats                   { return c.Counters }

func get(m *Monitor, url string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	m.router().ServeHTTP(rec, req)

	return rec
}

var _ = Describe("Monitor", func() {
	var (
		m     *Monitor
		rank0 *sampleComm
		rank1 *sampleComm
	)

	BeforeEach(func() {
		m = NewMonitor()

		rank0 = &sampleComm{
			CommName: "Rank0",
			RankID:   0,
			Counters: comm.Stats{SendsCompleted: 4, Pending: 1},
			Queues: []comm.QueueLevel{
				{Name: "Rank0.Outgoing", Size: 3, Capacity: 0},
				{Name: "Rank0.Unexpected[src=1,tag=1]", Size: 1, Capacity: 2},
			},
			Pending: []comm.RequestInfo{
				{ID: "r1", Kind: "recv", Peer: 1, Tag: 1, Issued: time.Now()},
			},
		}
		rank1 = &sampleComm{
			CommName: "Rank1",
			RankID:   1,
			Queues: []comm.QueueLevel{
				{Name: "Rank1.Unexpected[src=0,tag=11]", Size: 2, Capacity: 4},
			},
		}

		m.RegisterComm(rank0)
		m.RegisterComm(rank1)
	})

	It("should fall back to a random port for privileged ports", func() {
		m.WithPortNumber(80)
		Expect(m.portNumber).To(Equal(0))

		m.WithPortNumber(8080)
		Expect(m.portNumber).To(Equal(8080))
	})

	It("should list communicators", func() {
		rec := get(m, "/api/rank")

		var rsp []commRsp
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp).To(HaveLen(2))
		Expect(rsp[0].Name).To(Equal("Rank0"))
		Expect(rsp[0].Size).To(Equal(4))
		Expect(rsp[0].Stats.SendsCompleted).To(Equal(uint64(4)))
		Expect(rsp[1].Rank).To(Equal(comm.Rank(1)))
	})

	It("should list pending requests", func() {
		rec := get(m, "/api/requests")

		var rsp []map[string]any
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp).To(HaveLen(1))
		Expect(rsp[0]["comm"]).To(Equal("Rank0"))
		Expect(rsp[0]["id"]).To(Equal("r1"))
		Expect(rsp[0]["kind"]).To(Equal("recv"))
	})

	It("should sort queues by level", func() {
		rec := get(m, "/api/queues?sort=level")

		var rsp []comm.QueueLevel
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp).To(HaveLen(3))
		Expect(rsp[0].Name).To(Equal("Rank0.Outgoing"))
		Expect(rsp[1].Name).To(Equal("Rank1.Unexpected[src=0,tag=11]"))
		Expect(rsp[2].Name).To(Equal("Rank0.Unexpected[src=1,tag=1]"))
	})

	It("should sort queues by percent and paginate", func() {
		rec := get(m, "/api/queues?limit=1&offset=1")

		var rsp []comm.QueueLevel
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp).To(HaveLen(1))
		Expect(rsp[0].Name).To(Equal("Rank0.Unexpected[src=1,tag=1]"))
	})

	It("should return empty pages beyond the queues", func() {
		rec := get(m, "/api/queues?offset=10")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(Equal("[]"))
	})

	It("should reject bad queue parameters", func() {
		Expect(get(m, "/api/queues?sort=name").Code).
			To(Equal(http.StatusBadRequest))
		Expect(get(m, "/api/queues?limit=abc").Code).
			To(Equal(http.StatusBadRequest))
		Expect(get(m, "/api/queues?offset=-1").Code).
			To(Equal(http.StatusBadRequest))
	})

	It("should dump a communicator", func() {
		rec := get(m, "/api/comm/Rank0")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.Len()).To(BeNumerically(">", 0))
	})

	It("should report unknown communicators", func() {
		rec := get(m, "/api/comm/Rank9")

		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	It("should list and complete progress bars", func() {
		bar := m.CreateProgressBar("Broadcast", 4)
		bar.IncrementInProgress(2)
		bar.MoveInProgressToFinished(1)

		rec := get(m, "/api/progress")

		var rsp []progressRsp
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp).To(HaveLen(1))
		Expect(rsp[0].Name).To(Equal("Broadcast"))
		Expect(rsp[0].Total).To(Equal(uint64(4)))
		Expect(rsp[0].Finished).To(Equal(uint64(1)))
		Expect(rsp[0].InProgress).To(Equal(uint64(1)))

		m.CompleteProgressBar(bar)
		Expect(get(m, "/api/progress").Body.String()).To(Equal("[]"))
	})

	It("should report resources", func() {
		rec := get(m, "/api/resource")

		var rsp resourceRsp
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.MemorySize).To(BeNumerically(">", 0))
	})

	It("should serve the page", func() {
		rec := get(m, "/")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(HavePrefix("<!DOCTYPE html>"))
	})

	It("should start and stop the server", func() {
		url := m.StartServer()
		Expect(url).To(HavePrefix("http://localhost:"))
		Expect(m.URL()).To(Equal(url))

		rsp, err := http.Get(url + "/api/rank")
		Expect(err).NotTo(HaveOccurred())
		Expect(rsp.StatusCode).To(Equal(http.StatusOK))
		rsp.Body.Close()

		Expect(m.Close()).To(Succeed())
	})

	It("should not open a browser before starting", func() {
		Expect(m.OpenInBrowser()).NotTo(Succeed())
	})
})
