package model

// Operation names one of the streaming generation endpoints.
type Operation string

const (
	OperationRewrite  Operation = "rewrite"
	OperationCustom   Operation = "custom"
	OperationOptimize Operation = "optimize"
)

// ProjectFile is one source file sent by the client.
type ProjectFile struct {
	Path    string `json:"path" validate:"required"`
	Content string `json:"content"`
}

// ProjectMeta describes the project the files belong to.
type ProjectMeta struct {
	Name        string   `json:"name"`
	Language    string   `json:"language"`
	Framework   string   `json:"framework"`
	Description string   `json:"description"`
	Packages    []string `json:"packages"`
}

// GenerationRequest is the validated input to the generation pipeline.
type GenerationRequest struct {
	Operation    Operation
	APIKey       string
	Model        string
	UpstreamKeys []string
	Files        []ProjectFile
	Project      ProjectMeta
	UserPrompt   string
}

// GeneratedFile is one file in the model's structured reply.
type GeneratedFile struct {
	Path        string `json:"path"`
	Content     string `json:"content"`
	IsNew       bool   `json:"isNew"`
	IsRewritten bool   `json:"isRewritten"`
	Changes     string `json:"changes"`
}

// PackageAnalysis reports how the generated code uses project dependencies.
type PackageAnalysis struct {
	Used    []string `json:"used"`
	Unused  []string `json:"unused"`
	Missing []string `json:"missing"`
}

// GenerationResult is the typed view of a parsed model reply.
type GenerationResult struct {
	Files           []GeneratedFile   `json:"files"`
	Summary         string            `json:"summary"`
	Secrets         map[string]string `json:"secrets,omitempty"`
	PackageAnalysis *PackageAnalysis  `json:"packageAnalysis,omitempty"`
}
