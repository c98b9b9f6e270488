package mapreduce

import (
	"fmt"
	"sync"
	"time"

	"github.com/ringmr/ringmr/internal/logger"
	"github.com/ringmr/ringmr/internal/rpcfacade"
)

// DefaultItemsPerChunk is the chunk size startup uses when none is
// configured, matching the staged "map/i" keying scheme a master reads
// its map tasks back from.
const DefaultItemsPerChunk = 16

// RequestHandler stages one job's data and functions into the DHT and
// relays the eventual result back to the client.
type RequestHandler struct {
	dht           DHT
	transport     rpcfacade.Transport
	itemsPerChunk int
	retries       int
	retryTimeout  time.Duration
	log           logger.Logger

	mu          sync.Mutex
	userAddress rpcfacade.Address
}

// NewRequestHandler constructs a RequestHandler. itemsPerChunk <= 0 uses
// DefaultItemsPerChunk.
func NewRequestHandler(dht DHT, transport rpcfacade.Transport, itemsPerChunk, retries int, retryTimeout time.Duration, log logger.Logger) *RequestHandler {
	if itemsPerChunk <= 0 {
		itemsPerChunk = DefaultItemsPerChunk
	}
	return &RequestHandler{
		dht:           dht,
		transport:     transport,
		itemsPerChunk: itemsPerChunk,
		retries:       retries,
		retryTimeout:  retryTimeout,
		log:           log.Named("mapreduce.requesthandler"),
	}
}

// Startup stages a job: chunks inputData into ITEMS_PER_CHUNK pieces keyed
// "map/i", and stages the map/reduce function names plus the chunked data
// to the DHT, making at most REQUEST_RETRIES staging attempts in all.
func (h *RequestHandler) Startup(userAddr rpcfacade.Address, inputData []interface{}, mapFuncName, reduceFuncName string) bool {
	h.mu.Lock()
	h.userAddress = userAddr
	h.mu.Unlock()

	chunks := chunksFrom(inputData, h.itemsPerChunk)

	for attempt := 0; attempt < h.retries; attempt++ {
		if h.stage(mapFuncName, reduceFuncName, chunks) {
			return true
		}
		h.log.Warn("staging attempt failed, retrying", logger.F("attempt", attempt+1))
		time.Sleep(h.retryTimeout)
	}
	return false
}

// stage writes the job's staged data and function names, then reads
// StagedDataKey back to confirm the DHT actually took the write: Insert
// is oneway and swallows transport errors, so without this readback a
// DHT that is unreachable would be staged-and-forgotten and Startup
// would report success with nothing actually staged. Lookup is
// request/reply and returns def whenever the owner cannot be reached,
// which is what gives the retry loop in Startup something to fire on.
func (h *RequestHandler) stage(mapFuncName, reduceFuncName string, chunks map[TaskID]interface{}) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("staging panicked", logger.F("recovered", fmt.Sprint(r)))
			ok = false
		}
	}()
	h.dht.Insert(StagedMapCodeKey, mapFuncName, false, false)
	h.dht.Insert(StagedReduceCodeKey, reduceFuncName, false, false)
	h.dht.Insert(StagedDataKey, chunks, false, false)

	staged, confirmed := h.dht.Lookup(StagedDataKey, nil).(map[TaskID]interface{})
	if !confirmed || len(staged) != len(chunks) {
		h.log.Warn("staging confirmation failed", logger.F("chunks", len(chunks)))
		return false
	}
	return true
}

// NotifyResults reads FinalResultsKey from the DHT and forwards it to the
// remembered user address.
func (h *RequestHandler) NotifyResults() {
	h.mu.Lock()
	userAddr := h.userAddress
	h.mu.Unlock()
	if userAddr.IsZero() {
		h.log.Error("notify_results called with no remembered user address")
		return
	}

	results, _ := h.dht.Lookup(FinalResultsKey, nil).(map[string]interface{})

	c, err := h.transport.Dial(userAddr)
	if err != nil {
		h.log.Warn("dial user to deliver results failed", logger.F("error", err.Error()))
		return
	}
	defer c.Close()
	NewUserClient(c).NotifyResults(results)
}

func chunksFrom(items []interface{}, size int) map[TaskID]interface{} {
	chunks := make(map[TaskID]interface{})
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		chunks[TaskID(fmt.Sprintf("map/%d", i/size))] = append([]interface{}{}, items[i:end]...)
	}
	return chunks
}
