package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"taskbench/internal/llm"
	"taskbench/internal/logging"
	"taskbench/internal/tool"
)

// Pricing per million tokens, planner model rates.
const (
	inputCostPerMTok  = 3.0
	outputCostPerMTok = 15.0
)

// Record is one appended observation: the decision, the validation verdict,
// the result, and what it cost.
type Record struct {
	Turn       int          `json:"turn"`
	At         time.Time    `json:"at"`
	Call       tool.Call    `json:"call"`
	Validation tool.Outcome `json:"validation"`
	Result     tool.Result  `json:"result"`
	ElapsedMS  int64        `json:"elapsed_ms"`
	Usage      llm.Usage    `json:"usage"`
	CostUSD    float64      `json:"cost_usd"`
}

// Recorder appends structured records of each turn to a per-run JSONL file.
// It is read-only with respect to the rest of the pipeline: a failed write
// is counted and swallowed, never surfaced into orchestration state.
type Recorder struct {
	mu         sync.Mutex
	file       *os.File
	enc        *json.Encoder
	dropped    int
	totalUsage llm.Usage
	totalCost  float64
}

// New opens <dir>/<runID>.jsonl for appending. A nil Recorder is valid and
// records nothing.
func New(dir, runID string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, runID+".jsonl")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Recorder{file: file, enc: json.NewEncoder(file)}, nil
}

// Record appends one turn. Cost is derived from usage at planner rates.
func (r *Recorder) Record(call tool.Call, outcome tool.Outcome, result tool.Result, elapsed time.Duration, usage llm.Usage) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	call.Args = logging.RedactArgs(call.Args)
	cost := Cost(usage)
	r.totalUsage.InputTokens += usage.InputTokens
	r.totalUsage.OutputTokens += usage.OutputTokens
	r.totalCost += cost
	rec := Record{
		Turn:       call.TurnIndex,
		At:         time.Now().UTC(),
		Call:       call,
		Validation: outcome,
		Result:     result,
		ElapsedMS:  elapsed.Milliseconds(),
		Usage:      usage,
		CostUSD:    cost,
	}
	if err := r.enc.Encode(rec); err != nil {
		r.dropped++
	}
}

// Dropped reports how many records failed to persist.
func (r *Recorder) Dropped() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Totals returns accumulated usage and cost across the run.
func (r *Recorder) Totals() (llm.Usage, float64) {
	if r == nil {
		return llm.Usage{}, 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalUsage, r.totalCost
}

// Summary renders the run totals for the caller.
func (r *Recorder) Summary() string {
	usage, cost := r.Totals()
	return fmt.Sprintf("tokens: %d in / %d out, cost: $%.4f", usage.InputTokens, usage.OutputTokens, cost)
}

func (r *Recorder) Close() error {
	if r == nil || r.file == nil {
		return nil
	}
	return r.file.Close()
}

// Cost converts token usage to dollars.
func Cost(usage llm.Usage) float64 {
	return float64(usage.InputTokens)*inputCostPerMTok/1e6 + float64(usage.OutputTokens)*outputCostPerMTok/1e6
}
