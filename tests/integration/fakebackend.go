package integration

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// step is one scripted event on the completion stream
type step struct {
	token string
	delay time.Duration
	fail  string
}

// fakeInference serves the embed and streaming completion endpoints the HTTP
// backend client speaks. Embeddings are sha256-derived unit vectors, so
// identical text always embeds identically and re-index runs are comparable
// across calls.
type fakeInference struct {
	dims int
	srv  *httptest.Server

	mu            sync.Mutex
	embedCalls    int
	textsEmbedded int
	embedFail     bool
	completeFail  bool
	script        []step
	completions   int
	lastComplete  map[string]interface{}
}

func newFakeInference(dims int) *fakeInference {
	f := &fakeInference{
		dims:   dims,
		script: []step{{token: "ok"}},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/embed", f.handleEmbed)
	mux.HandleFunc("/complete/stream", f.handleComplete)
	f.srv = httptest.NewServer(mux)
	return f
}

func (f *fakeInference) URL() string { return f.srv.URL }
func (f *fakeInference) Close()      { f.srv.Close() }

func (f *fakeInference) failEmbeds(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embedFail = fail
}

func (f *fakeInference) failCompletions(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completeFail = fail
}

// setScript replaces the completion script. A terminal done event is always
// appended after the steps unless a step fails first.
func (f *fakeInference) setScript(steps ...step) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = steps
}

func (f *fakeInference) embedStats() (calls, texts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.embedCalls, f.textsEmbedded
}

func (f *fakeInference) completionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completions
}

// lastCompletion returns the most recent completion request body
func (f *fakeInference) lastCompletion() map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastComplete
}

func (f *fakeInference) handleEmbed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Texts []string `json:"texts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.embedCalls++
	f.textsEmbedded += len(req.Texts)
	fail := f.embedFail
	f.mu.Unlock()

	if fail {
		http.Error(w, "embedder down", http.StatusInternalServerError)
		return
	}

	vectors := make([][]float32, len(req.Texts))
	for i, text := range req.Texts {
		vectors[i] = hashVector(text, f.dims)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"vectors": vectors})
}

func (f *fakeInference) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.completions++
	f.lastComplete = req
	fail := f.completeFail
	steps := make([]step, len(f.script))
	copy(steps, f.script)
	f.mu.Unlock()

	if fail {
		http.Error(w, "completion down", http.StatusInternalServerError)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")

	for _, st := range steps {
		if st.delay > 0 {
			time.Sleep(st.delay)
		}
		if st.fail != "" {
			writeEvent(w, map[string]interface{}{"error": st.fail})
			flusher.Flush()
			return
		}
		writeEvent(w, map[string]interface{}{"token": st.token})
		flusher.Flush()
	}

	writeEvent(w, map[string]interface{}{"done": true})
	flusher.Flush()
}

func writeEvent(w http.ResponseWriter, ev map[string]interface{}) {
	payload, _ := json.Marshal(ev)
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

// hashVector derives a deterministic unit vector from text
func hashVector(text string, dims int) []float32 {
	hash := sha256.Sum256([]byte(text))
	vector := make([]float32, dims)
	for i := 0; i < dims; i++ {
		idx := (i * 4) % (len(hash) - 3)
		val := binary.BigEndian.Uint32(hash[idx : idx+4])
		vector[i] = (float32(val)/float32(math.MaxUint32))*2 - 1
	}

	var sum float64
	for _, v := range vector {
		sum += float64(v) * float64(v)
	}
	norm := float32(math.Sqrt(sum))
	if norm == 0 {
		vector[0] = 1
		return vector
	}
	for i := range vector {
		vector[i] /= norm
	}
	return vector
}
