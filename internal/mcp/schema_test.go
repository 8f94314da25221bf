package mcp

import (
	"strings"
	"testing"
)

func TestValidateArgs(t *testing.T) {
	fileSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":      map[string]any{"type": "string"},
			"recursive": map[string]any{"type": "boolean"},
		},
		"required": []any{"path"},
	}

	tests := []struct {
		name    string
		tool    Tool
		args    map[string]any
		wantErr bool
	}{
		{
			name:    "no schema accepts anything",
			tool:    Tool{Name: "free"},
			args:    map[string]any{"whatever": 42},
			wantErr: false,
		},
		{
			name:    "valid arguments",
			tool:    Tool{Name: "list_files", InputSchema: fileSchema},
			args:    map[string]any{"path": "/tmp", "recursive": true},
			wantErr: false,
		},
		{
			name:    "missing required field",
			tool:    Tool{Name: "list_files", InputSchema: fileSchema},
			args:    map[string]any{"recursive": true},
			wantErr: true,
		},
		{
			name:    "wrong type",
			tool:    Tool{Name: "list_files", InputSchema: fileSchema},
			args:    map[string]any{"path": 123},
			wantErr: true,
		},
		{
			name:    "nil args against required schema",
			tool:    Tool{Name: "list_files", InputSchema: fileSchema},
			args:    nil,
			wantErr: true,
		},
		{
			name:    "nil args against schema without requirements",
			tool:    Tool{Name: "status", InputSchema: map[string]any{"type": "object"}},
			args:    nil,
			wantErr: false,
		},
		{
			name: "uncompilable schema is tolerated",
			tool: Tool{Name: "odd", InputSchema: map[string]any{
				"type": []any{make(chan int)},
			}},
			args:    map[string]any{"anything": true},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateArgs(tt.tool, tt.args)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateArgs() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !strings.Contains(err.Error(), "invalid arguments") {
				t.Errorf("error = %v, want invalid-arguments prefix", err)
			}
		})
	}
}
