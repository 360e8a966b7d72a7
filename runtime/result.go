package runtime

import "strconv"

// WorkloadID identifies the application that produced a result.
type WorkloadID int64

// Key returns the registry key for the workload, its decimal form.
func (w WorkloadID) Key() string {
	return strconv.FormatInt(int64(w), 10)
}

// ResultRecord is the host's view of a completed computation.
// The bridge reads it and never mutates it.
type ResultRecord struct {
	ID         int64      `yaml:"id" json:"id"`
	Name       string     `yaml:"name" json:"name" validate:"required"`
	WorkloadID WorkloadID `yaml:"appid" json:"appid"`
	WorkunitID int64      `yaml:"workunit_id" json:"workunit_id"`
	XMLDocIn   string     `yaml:"xml_doc_in" json:"xml_doc_in"`
	ExitStatus int        `yaml:"exit_status" json:"exit_status"`
	CPUTime    float64    `yaml:"cpu_time" json:"cpu_time"`
	Files      []string   `yaml:"files" json:"files"` // only read by StaticResolver
}

// Script-visible field names of a marshalled result.
const (
	FieldName       = "name"
	FieldAppID      = "appid"
	FieldID         = "id"
	FieldWorkunitID = "wuid"
	FieldExitStatus = "exit_status"
	FieldCPUTime    = "cpu_time"
	FieldPaths      = "paths"
)

// ScriptFields returns the values every engine exposes on a result proxy.
// Name and workload id are passed through untouched.
func (r ResultRecord) ScriptFields(paths []string) map[string]any {
	copied := make([]string, len(paths))
	copy(copied, paths)

	return map[string]any{
		FieldName:       r.Name,
		FieldAppID:      int64(r.WorkloadID),
		FieldID:         r.ID,
		FieldWorkunitID: r.WorkunitID,
		FieldExitStatus: int64(r.ExitStatus),
		FieldCPUTime:    r.CPUTime,
		FieldPaths:      copied,
	}
}
