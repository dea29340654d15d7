package ocr

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

func init() {
	// Keep pdfcpu from creating a config dir under the user's home.
	api.DisableConfigDir()
}

func pdfConfig() *model.Configuration {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return cfg
}

// splitPDF writes one single-page PDF per page of src into workDir and
// returns their paths in page order.
func splitPDF(src, workDir string) ([]string, error) {
	cfg := pdfConfig()

	pageCount, err := api.PageCountFile(src)
	if err != nil {
		return nil, fmt.Errorf("%w: read pdf: %w", ErrUnsupportedDocument, err)
	}
	if pageCount == 0 {
		return nil, nil
	}

	// pdfcpu derives output names from the input base name.
	input := filepath.Join(workDir, "source.pdf")
	if err := copyFile(src, input); err != nil {
		return nil, err
	}
	if err := api.SplitFile(input, workDir, 1, cfg); err != nil {
		return nil, fmt.Errorf("split pdf: %w", err)
	}

	base := strings.TrimSuffix(input, filepath.Ext(input))
	paths := make([]string, 0, pageCount)
	for i := 1; i <= pageCount; i++ {
		p := fmt.Sprintf("%s_%d.pdf", base, i)
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("split pdf: page %d missing: %w", i, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	if err := os.WriteFile(dst, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}
