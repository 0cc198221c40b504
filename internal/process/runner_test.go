package process

import (
	"errors"
	"slices"
	"testing"
)

func TestNewSpec(t *testing.T) {
	tests := []struct {
		name    string
		program string
		args    []string
		wantErr error
	}{
		{"program only", "./server", nil, nil},
		{"with args", "python3", []string{"api_like_OAI.py", "--port", "8089"}, nil},
		{"empty program", "", []string{"--model", "m.gguf"}, ErrEmptySpec},
		{"blank program", "   ", nil, ErrEmptySpec},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := NewSpec(tt.program, tt.args...)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("NewSpec() error = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				if !spec.IsZero() {
					t.Error("failed NewSpec() returned a non-zero spec")
				}
				return
			}
			if spec.Program() != tt.program {
				t.Errorf("Program() = %q, want %q", spec.Program(), tt.program)
			}
			if len(spec.Args()) != len(tt.args) {
				t.Errorf("Args() = %q, want %q", spec.Args(), tt.args)
			}
		})
	}
}

func TestSpec_Immutable(t *testing.T) {
	args := []string{"--threads", "4"}
	spec := MustSpec("./server", args...)

	args[1] = "99"
	got := spec.Args()
	got[0] = "--mutated"
	tokens := spec.Tokens()
	tokens[0] = "rm"

	want := []string{"./server", "--threads", "4"}
	if !slices.Equal(spec.Tokens(), want) {
		t.Errorf("Tokens() = %q, want %q", spec.Tokens(), want)
	}
}

func TestSpec_String(t *testing.T) {
	spec := MustSpec("./server", "--model", "/models/my model.gguf", "--port", "8080")
	want := `./server --model "/models/my model.gguf" --port 8080`
	if got := spec.String(); got != want {
		t.Errorf("String() = %s, want %s", got, want)
	}
}

func TestMustSpec_PanicsOnEmpty(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustSpec(\"\") did not panic")
		}
	}()
	MustSpec("")
}
