package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"mailbuild/internal/pipeline"
)

func TestRegistry(t *testing.T) {
	noop := pipeline.ExecutorFunc(func(context.Context, *pipeline.Invocation) (*pipeline.Output, error) {
		return &pipeline.Output{}, nil
	})

	t.Run("registers and looks up", func(t *testing.T) {
		reg := pipeline.NewRegistry()
		if err := reg.Register("sass", noop); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		if _, ok := reg.Get("sass"); !ok {
			t.Error("Get(sass) not found")
		}
		if _, ok := reg.Get("less"); ok {
			t.Error("Get(less) found unregistered kind")
		}
	})

	t.Run("rejects duplicates", func(t *testing.T) {
		reg := pipeline.NewRegistry()
		reg.Register("sass", noop)
		if err := reg.Register("sass", noop); err == nil {
			t.Error("Register() expected error for duplicate kind")
		}
	})

	t.Run("rejects empty kind and nil executor", func(t *testing.T) {
		reg := pipeline.NewRegistry()
		if err := reg.Register("", noop); err == nil {
			t.Error("Register(\"\") expected error")
		}
		if err := reg.Register("sass", nil); err == nil {
			t.Error("Register(nil) expected error")
		}
	})

	t.Run("kinds are sorted", func(t *testing.T) {
		reg := pipeline.NewRegistry()
		for _, k := range []string{"s3", "assemble", "sass"} {
			reg.Register(k, noop)
		}
		if got := fmt.Sprint(reg.Kinds()); got != "[assemble s3 sass]" {
			t.Errorf("Kinds() = %s", got)
		}
	})
}

func TestParseStageRef(t *testing.T) {
	tests := []struct {
		in      string
		want    pipeline.StageRef
		wantErr bool
	}{
		{in: "sass", want: pipeline.StageRef{Name: "sass"}},
		{in: "imagemin:dynamic", want: pipeline.StageRef{Name: "imagemin", Target: "dynamic"}},
		{in: " premailer ", want: pipeline.StageRef{Name: "premailer"}},
		{in: "", wantErr: true},
		{in: ":target", wantErr: true},
		{in: "a:b:c", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			got, err := pipeline.ParseStageRef(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseStageRef(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseStageRef(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestDecodeOptions(t *testing.T) {
	type s3Options struct {
		Bucket        string        `mapstructure:"bucket" validate:"required"`
		Access        string        `mapstructure:"access" validate:"omitempty,oneof=private public-read"`
		MaxOperations int           `mapstructure:"max_operations" validate:"min=0"`
		ExpiresIn     time.Duration `mapstructure:"expires_in"`
		Gzip          bool          `mapstructure:"gzip"`
		Clients       []string      `mapstructure:"clients"`
	}

	t.Run("decodes weakly typed input", func(t *testing.T) {
		var opts s3Options
		err := pipeline.DecodeOptions(map[string]any{
			"bucket":         "mail",
			"access":         "public-read",
			"max_operations": "20",
			"expires_in":     "48h",
			"gzip":           "true",
			"clients":        "gmailnew",
		}, &opts)
		if err != nil {
			t.Fatalf("DecodeOptions() error = %v", err)
		}
		if opts.MaxOperations != 20 || opts.ExpiresIn != 48*time.Hour || !opts.Gzip {
			t.Errorf("opts = %+v", opts)
		}
		if len(opts.Clients) != 1 || opts.Clients[0] != "gmailnew" {
			t.Errorf("Clients = %v, want [gmailnew]", opts.Clients)
		}
	})

	t.Run("reports option names", func(t *testing.T) {
		var opts s3Options
		err := pipeline.DecodeOptions(map[string]any{"access": "world"}, &opts)
		if err == nil {
			t.Fatal("DecodeOptions() expected error")
		}
		for _, want := range []string{"option bucket is required", "option access must be one of"} {
			if !strings.Contains(err.Error(), want) {
				t.Errorf("error %q does not contain %q", err, want)
			}
		}
	})
}

func TestTransient(t *testing.T) {
	if pipeline.Transient(nil) != nil {
		t.Error("Transient(nil) != nil")
	}
	base := errors.New("reset")
	err := fmt.Errorf("uploading: %w", pipeline.Transient(base))
	if !pipeline.IsTransient(err) {
		t.Error("IsTransient() = false for wrapped transient error")
	}
	if !errors.Is(err, base) {
		t.Error("transient error does not unwrap")
	}
	if pipeline.IsTransient(base) {
		t.Error("IsTransient() = true for plain error")
	}
}
