package adapters

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/openkg/toolagent"
)

// Environment variables locating the muKG checkout, its interpreter, and
// where per-task logs are written.
const (
	MuKGPathEnv        = "MUKG_PATH"
	MuKGInterpreterEnv = "CONDA_MUKG_PY"
	MuKGLogDirEnv      = "MUKG_LOG_OUTPUT_DIR"
)

// muKGModelNames maps caller-facing model names onto the directory names
// the muKG checkout actually uses.
var muKGModelNames = map[string]string{
	// entity alignment
	"mtranse":   "MTransE",
	"gcn_align": "GCN_Align",
	"gcnalign":  "GCN_Align",
	"bootea":    "BootEA",
	"rrea":      "RREA",
	"nmea":      "NMEA",
	"attr2vec":  "Attr2Vec",
	"imuse":     "IMUSE",
	"kegcn":     "KEGCN",
	"multi_ke":  "MultiKE",

	// link prediction
	"transe":   "TransE",
	"transh":   "TransH",
	"transr":   "TransR",
	"transd":   "TransD",
	"distmult": "DistMult",
	"complex":  "ComplEx",
	"rotate":   "RotatE",
	"tucker":   "TuckER",
	"conve":    "ConvE",
	"convkb":   "ConvKB",

	// entity typing reuses the translation models under their _et aliases
	"transe_et": "TransE",
	"transh_et": "TransH",
	"transr_et": "TransR",
	"transd_et": "TransD",
}

// CanonicalModelName resolves a caller-supplied model name to the checkout's
// spelling, falling back to the name as given.
func CanonicalModelName(model string) string {
	if mapped, ok := muKGModelNames[strings.ToLower(model)]; ok {
		return mapped
	}
	return model
}

// TaskState describes one background muKG run.
type TaskState string

const (
	TaskStateRunning  TaskState = "running"
	TaskStateFinished TaskState = "finished"
	TaskStateFailed   TaskState = "failed"
)

// TaskRecord is the persisted view of one background run.
type TaskRecord struct {
	ID         string    `json:"id"`
	Capability string    `json:"capability"`
	TaskType   string    `json:"task_type"`
	Model      string    `json:"model"`
	Mode       string    `json:"mode"`
	Dataset    string    `json:"dataset"`
	LogFile    string    `json:"log_file"`
	State      TaskState `json:"state"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	ExitError  string    `json:"exit_error,omitempty"`
}

// TaskStore persists task records across restarts.
type TaskStore interface {
	Save(record TaskRecord) error
	Load(id string) (TaskRecord, bool, error)
	List() ([]TaskRecord, error)
}

// TaskStatus is the answer to a status query, combining the stored record
// with a view of the task's log.
type TaskStatus struct {
	Record  TaskRecord `json:"record"`
	Running bool       `json:"running"`
	LogHead string     `json:"log_head,omitempty"`
	LogTail string     `json:"log_tail,omitempty"`
}

// MuKGAdapter runs one muKG task type (entity alignment, link prediction, or
// entity typing) as a detached background process. Invoke returns a task
// receipt immediately; progress is answered through CheckTask. The wrapped
// environment tolerates only one run at a time, so the adapter is exclusive.
type MuKGAdapter struct {
	name     string
	taskType string
	store    TaskStore
}

// NewMuKGAdapter creates an adapter for one muKG task type, e.g.
// NewMuKGAdapter("EA", "ea", store).
func NewMuKGAdapter(name, taskType string, store TaskStore) *MuKGAdapter {
	return &MuKGAdapter{
		name:     name,
		taskType: taskType,
		store:    store,
	}
}

// Name implements toolagent.Adapter.
func (a *MuKGAdapter) Name() string { return a.name }

// Exclusive implements toolagent.Adapter.
func (a *MuKGAdapter) Exclusive() bool { return true }

// Timeout implements toolagent.Adapter. The bound covers spawning the
// process, not the background run itself.
func (a *MuKGAdapter) Timeout() time.Duration { return 30 * time.Second }

// Invoke implements toolagent.Adapter. It starts the external run, records
// it, and returns a task receipt carrying the task ID and log location.
func (a *MuKGAdapter) Invoke(ctx context.Context, inputs map[toolagent.Kind]interface{}) (toolagent.ToolCallResult, error) {
	spec, err := parseModelSpec(inputs)
	if err != nil {
		wrapped := toolagent.NewAdapterFailureError(a.name, err)
		return failure(a.name, toolagent.KindTaskReceipt, wrapped), wrapped
	}

	root := os.Getenv(MuKGPathEnv)
	if root == "" {
		cfgErr := toolagent.NewConfigurationError("environment variable "+MuKGPathEnv+" is not set", nil)
		return failure(a.name, toolagent.KindTaskReceipt, cfgErr), cfgErr
	}
	interpreter := os.Getenv(MuKGInterpreterEnv)
	if interpreter == "" {
		cfgErr := toolagent.NewConfigurationError("environment variable "+MuKGInterpreterEnv+" is not set", nil)
		return failure(a.name, toolagent.KindTaskReceipt, cfgErr), cfgErr
	}
	logDir := os.Getenv(MuKGLogDirEnv)
	if logDir == "" {
		cfgErr := toolagent.NewConfigurationError("environment variable "+MuKGLogDirEnv+" is not set", nil)
		return failure(a.name, toolagent.KindTaskReceipt, cfgErr), cfgErr
	}

	taskID := uuid.New().String()
	model := CanonicalModelName(spec.model)
	logFile := filepath.Join(logDir, fmt.Sprintf("mukg_%s_%s_%s.log", spec.mode, model, taskID))

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		wrapped := toolagent.NewAdapterFailureError(a.name, fmt.Errorf("creating log dir: %w", err))
		return failure(a.name, toolagent.KindTaskReceipt, wrapped), wrapped
	}
	out, err := os.Create(logFile)
	if err != nil {
		wrapped := toolagent.NewAdapterFailureError(a.name, fmt.Errorf("creating log file: %w", err))
		return failure(a.name, toolagent.KindTaskReceipt, wrapped), wrapped
	}

	// The run outlives the request, so the command is deliberately not
	// bound to ctx.
	cmd := exec.Command(interpreter, "main_args.py",
		"-t", a.taskType,
		"-m", model,
		"-o", spec.mode,
		"-d", "data/"+spec.dataset,
	)
	cmd.Dir = filepath.Join(root, "src/py")
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		out.Close()
		wrapped := toolagent.NewAdapterFailureError(a.name, fmt.Errorf("starting muKG run: %w", err))
		return failure(a.name, toolagent.KindTaskReceipt, wrapped), wrapped
	}

	record := TaskRecord{
		ID:         taskID,
		Capability: a.name,
		TaskType:   a.taskType,
		Model:      model,
		Mode:       spec.mode,
		Dataset:    spec.dataset,
		LogFile:    logFile,
		State:      TaskStateRunning,
		StartedAt:  time.Now(),
	}
	if err := a.store.Save(record); err != nil {
		log.Printf("Failed to persist task record (task_id: %s): %v", taskID, err)
	}

	go a.watch(taskID, cmd, out, record)

	log.Printf("Spawned muKG run (capability: %s, task_id: %s, model: %s, mode: %s, log: %s)",
		a.name, taskID, model, spec.mode, logFile)

	return toolagent.ToolCallResult{
		Capability: a.name,
		Kind:       toolagent.KindTaskReceipt,
		Payload: map[string]interface{}{
			"task_id":  taskID,
			"model":    model,
			"mode":     spec.mode,
			"log_file": logFile,
			"message":  "run started, query the task ID for status",
		},
		Status: toolagent.CallStatusSucceeded,
	}, nil
}

// watch waits for the background run and records its outcome.
func (a *MuKGAdapter) watch(taskID string, cmd *exec.Cmd, out *os.File, record TaskRecord) {
	waitErr := cmd.Wait()
	out.Close()

	record.FinishedAt = time.Now()
	if waitErr != nil {
		record.State = TaskStateFailed
		record.ExitError = waitErr.Error()
	} else {
		record.State = TaskStateFinished
	}
	if err := a.store.Save(record); err != nil {
		log.Printf("Failed to update task record (task_id: %s): %v", taskID, err)
	}
	log.Printf("muKG run finished (task_id: %s, state: %s)", taskID, record.State)
}

// CheckTask answers a status query for one task spawned by this adapter or
// any other sharing the store.
func (a *MuKGAdapter) CheckTask(taskID string) (TaskStatus, error) {
	return CheckTask(a.store, taskID)
}

// CheckTask answers a status query for any background run recorded in the
// store, with the head and tail of the run's log attached. The record is the
// source of truth for liveness: the watcher updates it the moment the
// process exits.
func CheckTask(store TaskStore, taskID string) (TaskStatus, error) {
	record, found, err := store.Load(taskID)
	if err != nil {
		return TaskStatus{}, toolagent.NewError(toolagent.ErrCodeAdapterFailure,
			toolagent.StageExecution, "loading task '"+taskID+"'", err)
	}
	if !found {
		return TaskStatus{}, toolagent.NewError(toolagent.ErrCodeNotFound,
			toolagent.StageExecution, "task '"+taskID+"' not found", nil)
	}

	status := TaskStatus{Record: record, Running: record.State == TaskStateRunning}
	if head, tailLines, err := readLogWindow(record.LogFile, 10, 20); err == nil {
		status.LogHead = head
		status.LogTail = tailLines
	}
	return status, nil
}

type modelSpec struct {
	model   string
	mode    string
	dataset string
}

// parseModelSpec extracts the run parameters from the request inputs.
func parseModelSpec(inputs map[toolagent.Kind]interface{}) (modelSpec, error) {
	raw, ok := inputs[toolagent.KindModelSpec]
	if !ok {
		return modelSpec{}, fmt.Errorf("missing %s input", toolagent.KindModelSpec)
	}
	fields, ok := raw.(map[string]interface{})
	if !ok {
		return modelSpec{}, fmt.Errorf("%s payload must be a map, got %T", toolagent.KindModelSpec, raw)
	}

	spec := modelSpec{mode: "test"}
	if model, ok := fields["model"].(string); ok && model != "" {
		spec.model = model
	} else {
		return modelSpec{}, fmt.Errorf("%s payload missing 'model'", toolagent.KindModelSpec)
	}
	if dataset, ok := fields["data"].(string); ok && dataset != "" {
		spec.dataset = dataset
	} else {
		return modelSpec{}, fmt.Errorf("%s payload missing 'data'", toolagent.KindModelSpec)
	}
	if train, ok := fields["train"].(bool); ok && train {
		spec.mode = "train"
	}
	return spec, nil
}

// readLogWindow returns the first headLines and last tailLines of a log.
func readLogWindow(path string, headLines, tailLines int) (string, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	lines := strings.Split(string(raw), "\n")

	head := lines
	if len(lines) > headLines {
		head = lines[:headLines]
	}
	tailStart := 0
	if len(lines) > tailLines {
		tailStart = len(lines) - tailLines
	}
	return strings.Join(head, "\n"), strings.Join(lines[tailStart:], "\n"), nil
}
