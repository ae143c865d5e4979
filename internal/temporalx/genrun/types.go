package genrun

const (
	WorkflowName    = "generation_workflow"
	ActivityRunTask = "run_generation_task"
)

// WorkflowID is the per-task workflow id, so a task is never started twice.
func WorkflowID(taskID string) string { return "generation-" + taskID }

type RunResult struct {
	TaskID  string `json:"task_id"`
	Claimed bool   `json:"claimed"`
	Status  string `json:"status"`
	Stage   string `json:"stage,omitempty"`
}
