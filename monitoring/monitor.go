// Package monitoring serves the state of the communicators of a process over
// HTTP.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/gompi/comm"
	"github.com/sarchlab/gompi/monitoring/web"
)

// Observable is a communicator whose state can be monitored.
type Observable interface {
	comm.Named
	Rank() comm.Rank
	Size() int
	PendingRequests() []comm.RequestInfo
	QueueLevels() []comm.QueueLevel
	Stats() comm.Stats
}

// Monitor turns a process into a server that reports the state of its
// communicators.
type Monitor struct {
	portNumber int

	lock  sync.Mutex
	comms []Observable

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar

	server *http.Server
	url    string
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterComm registers a communicator to be monitored.
func (m *Monitor) RegisterComm(c Observable) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.comms = append(m.comms, c)
}

func (m *Monitor) registered() []Observable {
	m.lock.Lock()
	defer m.lock.Unlock()

	return append([]Observable(nil), m.comms...)
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        comm.GetIDGenerator().Generate(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

func (m *Monitor) router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/rank", m.listComms)
	r.HandleFunc("/api/requests", m.listRequests)
	r.HandleFunc("/api/queues", m.listQueues)
	r.HandleFunc("/api/comm/{name}", m.commDetails)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/").Handler(http.FileServer(web.GetAssets()))

	return r
}

// StartServer starts the monitor as a web server and returns its URL.
func (m *Monitor) StartServer() string {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(m.portNumber))
	dieOnErr(err)

	m.url = fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	m.server = &http.Server{
		Handler:           m.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	fmt.Fprintf(os.Stderr, "Monitoring communicators with %s\n", m.url)

	go func() {
		err := m.server.Serve(listener)
		if !errors.Is(err, http.ErrServerClosed) {
			dieOnErr(err)
		}
	}()

	return m.url
}

// URL returns the address of a started server.
func (m *Monitor) URL() string {
	return m.url
}

// OpenInBrowser opens the monitor page with the default browser.
func (m *Monitor) OpenInBrowser() error {
	if m.url == "" {
		return errors.New("monitor server is not started")
	}

	return browser.OpenURL(m.url)
}

// Close stops the server.
func (m *Monitor) Close() error {
	if m.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	return m.server.Shutdown(ctx)
}

type commRsp struct {
	Name  string     `json:"name"`
	Rank  comm.Rank  `json:"rank"`
	Size  int        `json:"size"`
	Stats comm.Stats `json:"stats"`
}

func (m *Monitor) listComms(w http.ResponseWriter, _ *http.Request) {
	rsp := []commRsp{}
	for _, c := range m.registered() {
		rsp = append(rsp, commRsp{
			Name:  c.Name(),
			Rank:  c.Rank(),
			Size:  c.Size(),
			Stats: c.Stats(),
		})
	}

	writeJSON(w, rsp)
}

type requestRsp struct {
	Comm string `json:"comm"`
	comm.RequestInfo
}

func (m *Monitor) listRequests(w http.ResponseWriter, _ *http.Request) {
	rsp := []requestRsp{}
	for _, c := range m.registered() {
		for _, info := range c.PendingRequests() {
			rsp = append(rsp, requestRsp{Comm: c.Name(), RequestInfo: info})
		}
	}

	writeJSON(w, rsp)
}

func (m *Monitor) listQueues(w http.ResponseWriter, r *http.Request) {
	sortMethod, limit, offset, err := queuesParseParams(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	var levels []comm.QueueLevel
	for _, c := range m.registered() {
		levels = append(levels, c.QueueLevels()...)
	}

	writeJSON(w, sortAndSelectQueues(levels, sortMethod, limit, offset))
}

func queuesParseParams(
	r *http.Request,
) (sortMethod string, limit, offset int, err error) {
	sortMethod = r.URL.Query().Get("sort")
	if sortMethod == "" {
		sortMethod = "percent"
	}

	if sortMethod != "level" && sortMethod != "percent" {
		return "", 0, 0, fmt.Errorf(
			"invalid sort method: %s. Allowed values are `level` and `percent`",
			sortMethod)
	}

	limit, err = intParam(r, "limit")
	if err != nil {
		return "", 0, 0, err
	}

	offset, err = intParam(r, "offset")
	if err != nil {
		return "", 0, 0, err
	}

	return sortMethod, limit, offset, nil
}

func intParam(r *http.Request, name string) (int, error) {
	str := r.URL.Query().Get(name)
	if str == "" {
		return 0, nil
	}

	n, err := strconv.Atoi(str)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", name, str)
	}

	if n < 0 {
		return 0, fmt.Errorf("%s must not be negative", name)
	}

	return n, nil
}

func queuePercent(q comm.QueueLevel) float64 {
	if q.Capacity == 0 {
		return 0
	}

	return float64(q.Size) / float64(q.Capacity)
}

func sortAndSelectQueues(
	levels []comm.QueueLevel,
	sortMethod string,
	limit, offset int,
) []comm.QueueLevel {
	sorted := make([]comm.QueueLevel, len(levels))
	copy(sorted, levels)

	switch sortMethod {
	case "level":
		sort.SliceStable(sorted, func(i, j int) bool {
			if sorted[i].Size != sorted[j].Size {
				return sorted[i].Size > sorted[j].Size
			}

			return queuePercent(sorted[i]) > queuePercent(sorted[j])
		})
	case "percent":
		sort.SliceStable(sorted, func(i, j int) bool {
			percentI := queuePercent(sorted[i])
			percentJ := queuePercent(sorted[j])
			if percentI != percentJ {
				return percentI > percentJ
			}

			return sorted[i].Size > sorted[j].Size
		})
	default:
		panic("invalid sort method " + sortMethod)
	}

	if offset > len(sorted) {
		offset = len(sorted)
	}

	end := len(sorted)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	return sorted[offset:end]
}

func (m *Monitor) commDetails(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var found Observable
	for _, c := range m.registered() {
		if c.Name() == name {
			found = c
		}
	}

	if found == nil {
		w.WriteHeader(http.StatusNotFound)
		_, err := w.Write([]byte("Communicator not found"))
		dieOnErr(err)

		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(found)
	serializer.SetMaxDepth(1)
	err := serializer.Serialize(w)
	dieOnErr(err)
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := make([]progressRsp, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.snapshot())
	}
	m.progressBarsLock.Unlock()

	writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
