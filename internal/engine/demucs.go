// SPDX-License-Identifier: MIT

package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/scribedev/scribed/internal/model"
)

// DemucsTool drives the vocal-separation command. The tool reads a WAV file
// and writes the extracted vocal stem to the requested output path.
type DemucsTool struct {
	tool
	modelDir string
}

// NewDemucsTool creates the separation adapter around the configured command.
func NewDemucsTool(bin, modelDir string) *DemucsTool {
	return &DemucsTool{tool: tool{name: "demucs", bin: bin}, modelDir: modelDir}
}

// Separate implements Separator.
func (d *DemucsTool) Separate(ctx context.Context, inPath, outPath, modelName string) error {
	if modelName == "" {
		modelName = model.DefaultSettings().Demucs.WeakModel
	}
	args := []string{
		"--input", inPath,
		"--output", outPath,
		"--model", modelName,
	}
	if d.modelDir != "" {
		args = append(args, "--model-dir", d.modelDir)
	}
	if _, err := d.run(ctx, args, nil); err != nil {
		return err
	}
	if _, err := os.Stat(outPath); err != nil {
		return fmt.Errorf("demucs produced no output at %s: %w", outPath, err)
	}
	return nil
}

var _ Separator = (*DemucsTool)(nil)
