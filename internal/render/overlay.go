// Package render places signature marks onto the pages of a PDF document.
// Each mark is preferably the signer's traced SVG rasterized at its declared
// size; when no graphic is available or rasterization fails, a text block
// with the signer's name and timestamp takes its place. A metadata line is
// stamped below the primary mark either way.
package render

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"go.uber.org/zap"
)

const (
	defaultMarkWidth  = 150
	defaultMarkHeight = 75
	metaLineOffset    = 12 // points below the primary mark
)

var ErrEmptySVG = errors.New("empty svg payload")

// Mark is one signature placement on a page.
type Mark struct {
	PageNum      int
	X            float64
	Y            float64
	SignerName   string
	SignedAt     time.Time
	SignatureSVG string
	Width        int
	Height       int
	// MetaLine is the audit stamp: hash prefix, IP, timestamp, name.
	MetaLine string
}

// Overlayer renders marks onto PDF files via watermark stamping.
type Overlayer struct {
	workDir string
	logger  *zap.Logger
}

func NewOverlayer(workDir string, logger *zap.Logger) *Overlayer {
	return &Overlayer{
		workDir: workDir,
		logger:  logger.With(zap.String("component", "overlayer")),
	}
}

// Overlay writes a copy of inPath to outPath with every mark stamped on its
// page. Individual mark failures degrade to the text fallback; an error is
// returned only when the output file itself cannot be produced.
func (o *Overlayer) Overlay(inPath, outPath string, marks []Mark) error {
	if err := copyPDF(inPath, outPath); err != nil {
		return fmt.Errorf("failed to prepare output file: %w", err)
	}

	for _, mark := range marks {
		if err := o.stampMark(outPath, mark); err != nil {
			return fmt.Errorf("failed to stamp page %d: %w", mark.PageNum, err)
		}
	}
	return nil
}

func (o *Overlayer) stampMark(path string, mark Mark) error {
	pages := []string{strconv.Itoa(mark.PageNum)}

	stamped := false
	if strings.TrimSpace(mark.SignatureSVG) != "" {
		pngPath, err := o.rasterize(mark)
		if err != nil {
			o.logger.Warn("svg rasterization failed, falling back to text mark",
				zap.Int("page", mark.PageNum),
				zap.String("signer", mark.SignerName),
				zap.Error(err))
		} else {
			defer os.Remove(pngPath)
			desc := fmt.Sprintf("pos:bl, off:%.0f %.0f, scale:1 abs, rot:0", mark.X, mark.Y)
			wm, err := api.ImageWatermark(pngPath, desc, true, false, types.POINTS)
			if err != nil {
				return err
			}
			if err := api.AddWatermarksFile(path, path, pages, wm, nil); err != nil {
				return err
			}
			stamped = true
		}
	}

	if !stamped {
		text := fmt.Sprintf("Signé par %s\n%s", mark.SignerName, mark.SignedAt.Format("02/01/2006 15:04:05"))
		desc := fmt.Sprintf("fontname:Helvetica, points:10, pos:bl, off:%.0f %.0f, scale:1 abs, rot:0", mark.X, mark.Y)
		wm, err := api.TextWatermark(text, desc, true, false, types.POINTS)
		if err != nil {
			return err
		}
		if err := api.AddWatermarksFile(path, path, pages, wm, nil); err != nil {
			return err
		}
	}

	if mark.MetaLine != "" {
		desc := fmt.Sprintf("fontname:Helvetica, points:6, pos:bl, off:%.0f %.0f, scale:1 abs, rot:0",
			mark.X, mark.Y-metaLineOffset)
		wm, err := api.TextWatermark(mark.MetaLine, desc, true, false, types.POINTS)
		if err != nil {
			return err
		}
		if err := api.AddWatermarksFile(path, path, pages, wm, nil); err != nil {
			return err
		}
	}
	return nil
}

// rasterize converts the traced SVG to a PNG at the declared dimensions and
// returns the temporary file path.
func (o *Overlayer) rasterize(mark Mark) (string, error) {
	img, err := RasterizeSVG(mark.SignatureSVG, mark.Width, mark.Height)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(o.workDir, 0o755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(o.workDir, "mark-*.png")
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// RasterizeSVG renders the SVG payload at the given pixel dimensions,
// defaulting to 150x75 when they are not declared.
func RasterizeSVG(svg string, width, height int) (image.Image, error) {
	if strings.TrimSpace(svg) == "" {
		return nil, ErrEmptySVG
	}
	if width <= 0 {
		width = defaultMarkWidth
	}
	if height <= 0 {
		height = defaultMarkHeight
	}

	icon, err := oksvg.ReadIconStream(strings.NewReader(svg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(width), float64(height))

	rgba := image.NewRGBA(image.Rect(0, 0, width, height))
	scanner := rasterx.NewScannerGV(width, height, rgba, rgba.Bounds())
	raster := rasterx.NewDasher(width, height, scanner)
	icon.Draw(raster, 1.0)

	return rgba, nil
}

func copyPDF(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
