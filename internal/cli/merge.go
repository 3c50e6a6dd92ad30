package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/DeepLajpal/docmerge/pkg/cache"
	"github.com/DeepLajpal/docmerge/pkg/merge"
)

const (
	// maxConcurrentReads bounds parallel input file loading.
	maxConcurrentReads = 4
)

// mergeOpts holds the command-line flags for the merge command.
type mergeOpts struct {
	output           string   // output file path
	tier             string   // compression tier: "high", "balanced", "small"
	pageSize         string   // output page size: "a4", "letter", "legal", "custom"
	pageWidth        float64  // custom page width in points
	pageHeight       float64  // custom page height in points
	orientation      string   // "portrait" or "landscape"
	passwords        []string // "file=password" for encrypted PDFs
	rotations        []string // "file:page=degrees" (PDF) or "file=degrees" (image)
	deletions        []string // "file:pages" with pages as comma list
	crops            []string // "file:page=x,y,w,h" or "file=x,y,w,h", fractions of the page
	orders           []string // "file=3,1,2" custom page sequence
	maxDimension     int      // raster dimension cap in pixels
	maxRetries       int      // render attempts per page
	skipUnembeddable bool     // skip sources that cannot be embedded at all
	noCache          bool     // bypass the result cache
}

// mergeCommand creates the merge command, the main entry point of the CLI.
func (c *CLI) mergeCommand() *cobra.Command {
	opts := &mergeOpts{}

	cmd := &cobra.Command{
		Use:   "merge <file>...",
		Short: "Merge PDF and image files into a single PDF",
		Long: `Merge combines the given PDF and image files, in argument order, into
one output PDF. Per-page edits are addressed as file:page (1-based):

  docmerge merge a.pdf b.pdf photo.jpg -o out.pdf
  docmerge merge a.pdf --rotate a.pdf:2=90 --delete a.pdf:3
  docmerge merge scan.pdf --crop scan.pdf:1=0.1,0.1,0.8,0.8 --tier balanced
  docmerge merge locked.pdf --password locked.pdf=secret`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runMerge(cmd.Context(), args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "merged.pdf", "output file path")
	cmd.Flags().StringVar(&opts.tier, "tier", string(merge.TierHigh), "compression tier: high, balanced, small")
	cmd.Flags().StringVar(&opts.pageSize, "page-size", string(merge.PageA4), "output page size: a4, letter, legal, custom")
	cmd.Flags().Float64Var(&opts.pageWidth, "page-width", 0, "custom page width in points")
	cmd.Flags().Float64Var(&opts.pageHeight, "page-height", 0, "custom page height in points")
	cmd.Flags().StringVar(&opts.orientation, "orientation", string(merge.Portrait), "page orientation: portrait, landscape")
	cmd.Flags().StringArrayVar(&opts.passwords, "password", nil, "password for an encrypted PDF (file=password)")
	cmd.Flags().StringArrayVar(&opts.rotations, "rotate", nil, "clockwise rotation (file:page=degrees, file=degrees for images)")
	cmd.Flags().StringArrayVar(&opts.deletions, "delete", nil, "pages to drop (file:pages, comma-separated)")
	cmd.Flags().StringArrayVar(&opts.crops, "crop", nil, "crop rectangle as page fractions (file:page=x,y,w,h)")
	cmd.Flags().StringArrayVar(&opts.orders, "order", nil, "custom page sequence (file=3,1,2)")
	cmd.Flags().IntVar(&opts.maxDimension, "max-dimension", 0, "raster dimension cap in pixels (0 = device-safe default)")
	cmd.Flags().IntVar(&opts.maxRetries, "max-retries", 0, "render attempts per page (0 = default)")
	cmd.Flags().BoolVar(&opts.skipUnembeddable, "skip-unembeddable", false, "skip files that cannot be embedded instead of aborting")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "bypass the merged document cache")

	return cmd
}

// runMerge loads the inputs, builds the request, and runs the pipeline.
func (c *CLI) runMerge(ctx context.Context, paths []string, opts *mergeOpts) error {
	logger := loggerFromContext(ctx)

	req, err := buildRequest(ctx, paths, opts)
	if err != nil {
		return err
	}

	resultCache, err := newCache(opts.noCache)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer resultCache.Close()

	digest := requestDigest(req)
	key := cache.NewDefaultKeyer().ResultKey(digest)
	if data, hit, err := resultCache.Get(ctx, key); err == nil && hit {
		var cached merge.Result
		if err := json.Unmarshal(data, &cached); err == nil {
			if err := os.WriteFile(opts.output, cached.Bytes, 0644); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			printSuccess("Merged %d files into %d pages", len(paths), cached.PageCount)
			printFile(opts.output)
			printStats(cached.PageCount, cached.SizeBytes, true)
			printDiagnostics(cached.Diagnostics)
			return nil
		}
		_ = resultCache.Delete(ctx, key)
	}

	lim := merge.DefaultLimits()
	if opts.maxDimension > 0 {
		lim = merge.Limits{MaxDimension: opts.maxDimension, MaxArea: opts.maxDimension * opts.maxDimension}
	}
	merger := c.newMerger(lim, opts.maxRetries, opts.skipUnembeddable)

	p := newProgress(logger)
	spinner := newSpinnerWithContext(ctx, fmt.Sprintf("Merging %d files...", len(paths)))
	spinner.Start()

	result, err := merger.Merge(ctx, *req)
	if err != nil {
		spinner.StopWithError("Merge failed")
		return err
	}
	spinner.Stop()
	p.done(fmt.Sprintf("Merged %d files into %d pages", len(paths), result.PageCount))

	if err := os.WriteFile(opts.output, result.Bytes, 0644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	if data, err := json.Marshal(result); err == nil {
		if err := resultCache.Set(ctx, key, data, 0); err != nil {
			logger.Debug("cache write failed", "err", err)
		}
	}

	printSuccess("Wrote %s", opts.output)
	printFile(opts.output)
	printStats(result.PageCount, result.SizeBytes, false)
	printDiagnostics(result.Diagnostics)
	return nil
}

// buildRequest loads all input files concurrently and applies the edit
// flags to the matching sources.
func buildRequest(ctx context.Context, paths []string, opts *mergeOpts) (*merge.Request, error) {
	sources := make([]merge.Source, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentReads)
	for i, path := range paths {
		g.Go(func() error {
			kind, err := kindForPath(path)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			sources[i] = merge.Source{
				ID:    path,
				Name:  filepath.Base(path),
				Kind:  kind,
				Bytes: data,
				Order: i,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byID := make(map[string]*merge.Source, len(sources))
	for i := range sources {
		byID[sources[i].ID] = &sources[i]
	}

	if err := applyEdits(byID, opts); err != nil {
		return nil, err
	}

	output := merge.OutputSpec{
		PageSize:     merge.PageSize(opts.pageSize),
		CustomWidth:  opts.pageWidth,
		CustomHeight: opts.pageHeight,
		Orientation:  merge.Orientation(opts.orientation),
		Filename:     filepath.Base(opts.output),
	}

	req := &merge.Request{
		Sources: sources,
		Output:  output,
		Tier:    merge.Tier(opts.tier),
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// applyEdits parses the edit flags and attaches them to sources.
func applyEdits(byID map[string]*merge.Source, opts *mergeOpts) error {
	for _, spec := range opts.passwords {
		file, value, err := splitSpec(spec)
		if err != nil {
			return fmt.Errorf("--password %q: %w", spec, err)
		}
		src, err := lookupSource(byID, file)
		if err != nil {
			return fmt.Errorf("--password %q: %w", spec, err)
		}
		src.Password = value
	}

	for _, spec := range opts.rotations {
		target, value, err := splitSpec(spec)
		if err != nil {
			return fmt.Errorf("--rotate %q: %w", spec, err)
		}
		deg, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("--rotate %q: degrees must be an integer", spec)
		}
		file, page := splitTarget(target)
		src, err := lookupSource(byID, file)
		if err != nil {
			return fmt.Errorf("--rotate %q: %w", spec, err)
		}
		if src.Kind == merge.KindImage {
			edit := ensureImageEdit(src)
			edit.Rotation = deg
			continue
		}
		if page == 0 {
			return fmt.Errorf("--rotate %q: PDF rotation needs a page (file:page=degrees)", spec)
		}
		edit := src.PageEdits[page]
		edit.RotationDelta = deg
		setPageEdit(src, page, edit)
	}

	for _, spec := range opts.deletions {
		file, page := splitTarget(spec)
		if page != 0 {
			// Single page form: file:page
			src, err := lookupSource(byID, file)
			if err != nil {
				return fmt.Errorf("--delete %q: %w", spec, err)
			}
			edit := src.PageEdits[page]
			edit.Deleted = true
			setPageEdit(src, page, edit)
			continue
		}
		// Comma list form: file:2,5
		idx := strings.LastIndex(spec, ":")
		if idx < 0 {
			return fmt.Errorf("--delete %q: expected file:pages", spec)
		}
		src, err := lookupSource(byID, spec[:idx])
		if err != nil {
			return fmt.Errorf("--delete %q: %w", spec, err)
		}
		pages, err := parseIntList(spec[idx+1:])
		if err != nil {
			return fmt.Errorf("--delete %q: %w", spec, err)
		}
		for _, p := range pages {
			edit := src.PageEdits[p]
			edit.Deleted = true
			setPageEdit(src, p, edit)
		}
	}

	for _, spec := range opts.crops {
		target, value, err := splitSpec(spec)
		if err != nil {
			return fmt.Errorf("--crop %q: %w", spec, err)
		}
		rect, err := parseCrop(value)
		if err != nil {
			return fmt.Errorf("--crop %q: %w", spec, err)
		}
		file, page := splitTarget(target)
		src, err := lookupSource(byID, file)
		if err != nil {
			return fmt.Errorf("--crop %q: %w", spec, err)
		}
		if src.Kind == merge.KindImage {
			edit := ensureImageEdit(src)
			edit.Crop = rect
			continue
		}
		if page == 0 {
			return fmt.Errorf("--crop %q: PDF crop needs a page (file:page=x,y,w,h)", spec)
		}
		edit := src.PageEdits[page]
		edit.Crop = rect
		setPageEdit(src, page, edit)
	}

	for _, spec := range opts.orders {
		file, value, err := splitSpec(spec)
		if err != nil {
			return fmt.Errorf("--order %q: %w", spec, err)
		}
		src, err := lookupSource(byID, file)
		if err != nil {
			return fmt.Errorf("--order %q: %w", spec, err)
		}
		pages, err := parseIntList(value)
		if err != nil {
			return fmt.Errorf("--order %q: %w", spec, err)
		}
		src.PageOrder = pages
	}

	return nil
}

// =============================================================================
// Flag Parsing Helpers
// =============================================================================

// splitSpec splits "target=value" on the first equals sign.
func splitSpec(spec string) (target, value string, err error) {
	idx := strings.Index(spec, "=")
	if idx <= 0 || idx == len(spec)-1 {
		return "", "", fmt.Errorf("expected target=value")
	}
	return spec[:idx], spec[idx+1:], nil
}

// splitTarget splits "file:page" on the last colon. If the suffix is
// not a positive integer the whole string is treated as a file name,
// so paths with colons still work.
func splitTarget(target string) (file string, page int) {
	idx := strings.LastIndex(target, ":")
	if idx < 0 {
		return target, 0
	}
	n, err := strconv.Atoi(target[idx+1:])
	if err != nil || n < 1 {
		return target, 0
	}
	return target[:idx], n
}

// parseCrop parses "x,y,w,h" as fractions of the page.
func parseCrop(value string) (*merge.CropRect, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("expected x,y,w,h")
	}
	nums := make([]float64, 4)
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", part)
		}
		nums[i] = f
	}
	rect := &merge.CropRect{X: nums[0], Y: nums[1], Width: nums[2], Height: nums[3]}
	if err := rect.Validate(); err != nil {
		return nil, err
	}
	return rect, nil
}

// parseIntList parses a comma-separated list of positive integers.
func parseIntList(value string) ([]int, error) {
	parts := strings.Split(value, ",")
	nums := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 1 {
			return nil, fmt.Errorf("%q is not a positive page number", part)
		}
		nums = append(nums, n)
	}
	return nums, nil
}

// kindForPath maps a file extension to a source kind.
func kindForPath(path string) (merge.Kind, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return merge.KindPDF, nil
	case ".png", ".jpg", ".jpeg":
		return merge.KindImage, nil
	default:
		return "", fmt.Errorf("%s: unsupported file type (want .pdf, .png, .jpg)", path)
	}
}

func lookupSource(byID map[string]*merge.Source, file string) (*merge.Source, error) {
	if src, ok := byID[file]; ok {
		return src, nil
	}
	return nil, fmt.Errorf("%s is not among the input files", file)
}

func ensureImageEdit(src *merge.Source) *merge.ImageEdit {
	if src.ImageEdit == nil {
		src.ImageEdit = &merge.ImageEdit{}
	}
	return src.ImageEdit
}

func setPageEdit(src *merge.Source, page int, edit merge.PageEdit) {
	if src.PageEdits == nil {
		src.PageEdits = make(map[int]merge.PageEdit)
	}
	src.PageEdits[page] = edit
}

// requestDigest hashes the full request for result caching.
func requestDigest(req *merge.Request) string {
	data, _ := json.Marshal(req)
	return cache.Hash(data)
}
