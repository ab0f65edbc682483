// USB Defender Core
// Copyright (c) 2026 The USB Defender Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of USB Defender Core.
//
// USB Defender Core is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// USB Defender Core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with USB Defender Core.  If not, see <http://www.gnu.org/licenses/>.

// Package convert renders documents to flat raster images, destroying any
// active content they carry. Rendering is delegated to LibreOffice and
// ImageMagick; this package only sequences them and collects page images
// in order.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/USBDefenderProject/usb-defender-core/pkg/helpers"
	"github.com/rs/zerolog/log"
)

// ErrUnsupportedType is returned for files no conversion route exists for.
var ErrUnsupportedType = errors.New("no conversion route for file type")

// Options control the rendered output.
type Options struct {
	// Format is the output image format, e.g. "png" or "jpg".
	Format string
	// DPI is the render density for paged documents.
	DPI int
	// Quality is the encoder quality for lossy formats.
	Quality int
	// MaxDimension bounds the longest image edge in pixels.
	MaxDimension int
}

// Gateway converts one source file into one or more page images.
type Gateway interface {
	// Convert renders src into outDir and returns the page image paths in
	// page order. A multi-page document yields name_001.ext, name_002.ext
	// and so on; a single page yields just name.ext.
	Convert(ctx context.Context, src, outDir string) ([]string, error)
}

var (
	officeExts = []string{"doc", "docx", "xls", "xlsx", "ppt", "pptx", "odt", "ods", "odp", "rtf"}
	imageExts  = []string{"jpg", "jpeg", "png", "gif", "bmp", "tiff"}
	textExts   = []string{"txt"}
)

// DocImageConverter renders documents via soffice and ImageMagick.
type DocImageConverter struct {
	opts       Options
	timeout    time.Duration
	sofficeBin string
	magickBin  string
}

func NewDocImageConverter(opts Options, timeout time.Duration) *DocImageConverter {
	return &DocImageConverter{
		opts:       opts,
		timeout:    timeout,
		sofficeBin: "soffice",
		magickBin:  "convert",
	}
}

func (c *DocImageConverter) Convert(ctx context.Context, src, outDir string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(src)), ".")
	switch {
	case ext == "pdf":
		return c.renderPaged(ctx, src, outDir)
	case helpers.Contains(officeExts, ext):
		pdf, err := c.toPDF(ctx, src)
		if err != nil {
			return nil, err
		}
		defer func() {
			_ = os.RemoveAll(filepath.Dir(pdf))
		}()
		return c.renderPaged(ctx, pdf, outDir)
	case helpers.Contains(imageExts, ext):
		return c.reencodeImage(ctx, src, outDir)
	case helpers.Contains(textExts, ext):
		return c.renderText(ctx, src, outDir)
	default:
		return nil, fmt.Errorf("%w: .%s", ErrUnsupportedType, ext)
	}
}

// toPDF converts an office document to PDF in a fresh temp directory,
// which the caller removes.
func (c *DocImageConverter) toPDF(ctx context.Context, src string) (string, error) {
	tmpDir, err := os.MkdirTemp("", "usbdefender-pdf-")
	if err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}

	err = c.run(ctx, c.sofficeBin,
		"--headless",
		"--norestore",
		"--convert-to", "pdf",
		"--outdir", tmpDir,
		src,
	)
	if err != nil {
		_ = os.RemoveAll(tmpDir)
		return "", fmt.Errorf("office to PDF conversion failed: %w", err)
	}

	pdf := filepath.Join(tmpDir, baseName(src)+".pdf")
	if _, err := os.Stat(pdf); err != nil {
		_ = os.RemoveAll(tmpDir)
		return "", fmt.Errorf("office conversion produced no PDF: %w", err)
	}
	return pdf, nil
}

// renderPaged rasterizes a PDF into one image per page.
func (c *DocImageConverter) renderPaged(ctx context.Context, src, outDir string) ([]string, error) {
	base := baseName(src)
	pattern := filepath.Join(outDir, fmt.Sprintf("%s_%%03d.%s", base, c.opts.Format))

	err := c.run(ctx, c.magickBin,
		"-density", fmt.Sprintf("%d", c.opts.DPI),
		src,
		"-quality", fmt.Sprintf("%d", c.opts.Quality),
		"-resize", fmt.Sprintf("%dx%d>", c.opts.MaxDimension, c.opts.MaxDimension),
		"-scene", "1",
		pattern,
	)
	if err != nil {
		return nil, fmt.Errorf("PDF rasterization failed: %w", err)
	}

	return collectPages(outDir, base, c.opts.Format)
}

// reencodeImage rewrites an image through the render pipeline, stripping
// metadata and any trailing payload.
func (c *DocImageConverter) reencodeImage(ctx context.Context, src, outDir string) ([]string, error) {
	out := filepath.Join(outDir, baseName(src)+"."+c.opts.Format)

	err := c.run(ctx, c.magickBin,
		src+"[0]",
		"-strip",
		"-quality", fmt.Sprintf("%d", c.opts.Quality),
		"-resize", fmt.Sprintf("%dx%d>", c.opts.MaxDimension, c.opts.MaxDimension),
		out,
	)
	if err != nil {
		return nil, fmt.Errorf("image re-encoding failed: %w", err)
	}
	return []string{out}, nil
}

// renderText draws a plain text file onto an image page.
func (c *DocImageConverter) renderText(ctx context.Context, src, outDir string) ([]string, error) {
	out := filepath.Join(outDir, baseName(src)+"."+c.opts.Format)

	err := c.run(ctx, c.magickBin,
		"-size", "1240x",
		"-pointsize", "14",
		"-background", "white",
		"-fill", "black",
		"caption:@"+src,
		out,
	)
	if err != nil {
		return nil, fmt.Errorf("text rendering failed: %w", err)
	}
	return []string{out}, nil
}

func (c *DocImageConverter) run(ctx context.Context, bin string, args ...string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	log.Debug().Str("bin", bin).Strs("args", args).Msg("running conversion command")

	err := cmd.Run()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%s: %w: %s", bin, err, msg)
		}
		return fmt.Errorf("%s: %w", bin, err)
	}
	return nil
}

// collectPages gathers the rendered page images for base in page order.
// A single-page render is renamed to drop the page suffix.
func collectPages(outDir, base, format string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(outDir, base+"_*."+format))
	if err != nil {
		return nil, fmt.Errorf("failed to list rendered pages: %w", err)
	}
	if len(matches) == 0 {
		return nil, errors.New("rasterization produced no pages")
	}

	// ImageMagick widens the page field past 999 pages, so lexicographic
	// order would put _1000 before _999
	sort.Slice(matches, func(i, j int) bool {
		return pageNumber(matches[i], base, format) < pageNumber(matches[j], base, format)
	})

	if len(matches) == 1 {
		single := filepath.Join(outDir, base+"."+format)
		if err := os.Rename(matches[0], single); err != nil {
			return nil, fmt.Errorf("failed to rename single page: %w", err)
		}
		return []string{single}, nil
	}
	return matches, nil
}

// pageNumber extracts the numeric page suffix from a rendered page path.
func pageNumber(path, base, format string) int {
	name := filepath.Base(path)
	digits := strings.TrimSuffix(strings.TrimPrefix(name, base+"_"), "."+format)
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return n
}

func baseName(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}
