package rawimport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// downloadState names the states from spec.md §4.2. The implementation
// collapses them into a single linear goroutine (design note §9); the
// constants exist so log lines and tests can refer to a state by name.
type downloadState int

const (
	stateFresh downloadState = iota
	stateSniffing
	stateShortCircuit
	stateStreaming
	stateFinalizing
	stateDone
)

// download is the per-URL state machine from spec.md §3. One goroutine
// runs (*download).run for its entire lifetime; no field is touched from
// more than one goroutine, so unlike Session.downloads it needs no mutex
// (see SPEC_FULL.md §5).
type download struct {
	id        string
	log       *slog.Logger
	transport Transport

	imageRoot  string
	url        string
	local      string
	forceLocal bool

	oldETags []string
	etag     string

	tempPath       string
	finalPathValue string

	contentLength       int64 // -1 == unknown
	writtenCompressed   int64
	writtenUncompressed int64

	mtime time.Time

	diskFile   *os.File
	compressed bool

	state downloadState
}

func newDownload(log *slog.Logger, transport Transport, imageRoot, url string, opts PullOptions) *download {
	return &download{
		id:            uuid.NewString(),
		log:           log.With("download_id", uuid.NewString(), "url", url),
		transport:     transport,
		imageRoot:     imageRoot,
		url:           url,
		local:         opts.Local,
		forceLocal:    opts.ForceLocal,
		contentLength: -1,
		state:         stateFresh,
	}
}

// run drives the download from Fresh to Done, returning the terminal
// error (nil on success). Every exit path - including ctx cancellation -
// goes through the deferred cleanup, which unlinks tempPath if it is
// still set, preserving invariant 1 in spec.md §3.
func (d *download) run(ctx context.Context) error {
	defer func() {
		if d.diskFile != nil {
			d.diskFile.Close()
		}
		if d.tempPath != "" {
			os.Remove(d.tempPath)
		}
	}()

	d.log.Info("getting image")

	oldETags, err := findOldETags(d.imageRoot, d.url)
	if err != nil {
		return fmt.Errorf("%w: scan for cached etags: %v", ErrFilesystem, err)
	}
	d.oldETags = oldETags
	d.state = stateSniffing

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if len(oldETags) > 0 {
		req.Header.Set("If-None-Match", strings.Join(oldETags, ", "))
	}

	resp, err := d.transport.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer resp.Body.Close()

	shortCircuit, err := d.handleHeaders(resp)
	if err != nil {
		return err
	}
	if shortCircuit {
		d.state = stateShortCircuit
		return d.success()
	}

	d.state = stateStreaming
	if err := d.streamBody(resp.Body); err != nil {
		return err
	}

	d.state = stateFinalizing
	if err := d.finalize(); err != nil {
		return err
	}

	return d.success()
}

// handleHeaders implements spec.md §4.2 "Header callback" plus the
// status-code rules from "Transport completion" steps 1-2. Go's
// net/http guarantees resp.Header is complete before any byte of
// resp.Body is read, so unlike the callback-driven original there is no
// possibility of a body chunk racing ahead of the ETag header.
func (d *download) handleHeaders(resp *http.Response) (shortCircuit bool, err error) {
	if etag := resp.Header.Get("ETag"); etag != "" {
		d.etag = parseETag(etag)
		if containsString(d.oldETags, d.etag) {
			d.log.Info("image already downloaded, skipping", "etag", d.etag)
			return true, nil
		}
	}

	if cl := resp.ContentLength; cl >= 0 {
		d.contentLength = cl
		d.log.Info("declared content length", "size", humanize.Bytes(uint64(cl)))
	}

	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			d.mtime = t
		}
	}

	switch {
	case resp.StatusCode == http.StatusNotModified:
		d.log.Info("image already downloaded, skipping (304)")
		return true, nil
	case resp.StatusCode >= 300:
		return false, fmt.Errorf("%w: request to %s failed with status %d", ErrIO, d.url, resp.StatusCode)
	case resp.StatusCode < 200:
		return false, fmt.Errorf("%w: unexpected status %d", ErrIO, resp.StatusCode)
	}
	return false, nil
}

// streamBody implements spec.md §4.2's sniff/stream write-body callback:
// accumulate the first sniffLen bytes to classify the stream, then pump
// the rest (sniffed prefix included) through the decompressor and the
// sparse writer.
func (d *download) streamBody(body io.Reader) error {
	sniff := make([]byte, sniffLen)
	n, err := io.ReadFull(body, sniff)
	if n == 0 {
		if err == io.EOF {
			return fmt.Errorf("%w: no data received", ErrIO)
		}
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	sniff = sniff[:n]

	if err != nil && err != io.ErrUnexpectedEOF {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	d.compressed = len(sniff) == sniffLen && isXZStream(sniff)
	d.log.Debug("classified stream", "compressed", d.compressed)

	if err := d.openForWrite(); err != nil {
		return err
	}

	tracker := newProgressTracker(d.log, d.contentLength)
	counted := &compressedReader{r: io.MultiReader(bytes.NewReader(sniff), body), d: d, tracker: tracker}

	out, err := decompressingReader(counted, d.compressed)
	if err != nil {
		return fmt.Errorf("%w: init decompressor: %v", ErrIO, err)
	}

	buf := make([]byte, 16*1024)
	for {
		n, rerr := out.Read(buf)
		if n > 0 {
			if werr := d.writeUncompressed(buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("%w: decompress: %v", ErrIO, rerr)
		}
	}

	return nil
}

// openForWrite implements spec.md §4.2 "open-for-write". It is only
// ever called once per download since streamBody calls it exactly once,
// but the idempotence guard matches the reference implementation's.
func (d *download) openForWrite() error {
	if d.diskFile != nil {
		return nil
	}

	d.finalPathValue = finalPath(d.imageRoot, d.url, d.etag)
	tmp, err := tempSibling(d.finalPathValue)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFilesystem, err)
	}

	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrFilesystem, tmp, err)
	}
	d.tempPath = tmp
	d.diskFile = f

	if err := setNoCOW(f); err != nil {
		d.log.Warn("failed to disable copy-on-write", "path", tmp, "error", err)
	}

	return nil
}

// writeUncompressed implements spec.md §4.2 "Uncompressed-write":
// checked-add against RawMaxSize, then a sparse write.
func (d *download) writeUncompressed(buf []byte) error {
	next := d.writtenUncompressed + int64(len(buf))
	if next < d.writtenUncompressed {
		return fmt.Errorf("%w: uncompressed size", ErrOverflow)
	}
	if next > RawMaxSize {
		return fmt.Errorf("%w: image exceeds %s", ErrTooLarge, humanize.Bytes(uint64(RawMaxSize)))
	}

	n, err := sparseWrite(d.diskFile, buf)
	d.writtenUncompressed += int64(n)
	if err != nil {
		return fmt.Errorf("%w: write: %v", ErrIO, err)
	}
	if n < len(buf) {
		return fmt.Errorf("%w: short write", ErrIO)
	}
	return nil
}

// compressedReader wraps the network body and implements spec.md §4.2
// "Compressed-write"'s checked-add/content-length guard, counting bytes
// as they are read off the wire (which is also true of the sniffed
// prefix re-delivered through the MultiReader: those bytes were read
// from the network exactly once).
type compressedReader struct {
	r       io.Reader
	d       *download
	tracker *progressTracker
}

func (c *compressedReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		next := c.d.writtenCompressed + int64(n)
		if next < c.d.writtenCompressed {
			return n, fmt.Errorf("%w: compressed size", ErrOverflow)
		}
		if c.d.contentLength >= 0 && next > c.d.contentLength {
			return n, fmt.Errorf("%w: content length incorrect", ErrTooLarge)
		}
		c.d.writtenCompressed = next
		if c.tracker != nil {
			c.tracker.Sample(next)
		}
	}
	return n, err
}

// finalize implements spec.md §4.2 "Finalize".
func (d *download) finalize() error {
	if d.diskFile == nil {
		return fmt.Errorf("%w: no data received", ErrIO)
	}
	if d.contentLength >= 0 && d.writtenCompressed != d.contentLength {
		return fmt.Errorf("%w: download truncated", ErrIO)
	}

	if err := d.diskFile.Truncate(d.writtenUncompressed); err != nil {
		return fmt.Errorf("%w: truncate: %v", ErrFilesystem, err)
	}

	isCOW, err := probeCOW(d.diskFile)
	if err != nil {
		return fmt.Errorf("%w: detect container format: %v", ErrFilesystem, err)
	}
	if isCOW {
		if err := d.convertContainer(); err != nil {
			return err
		}
	}

	if d.etag != "" {
		if err := setXattr(d.diskFile, "user.source_etag", d.etag); err != nil {
			d.log.Warn("failed to set source_etag xattr", "error", err)
		}
	}
	if err := setXattr(d.diskFile, "user.source_url", d.url); err != nil {
		d.log.Warn("failed to set source_url xattr", "error", err)
	}

	if !d.mtime.IsZero() {
		if err := setTimes(d.diskFile, d.mtime); err != nil {
			d.log.Warn("failed to set image timestamps", "error", err)
		}
	}

	fi, err := d.diskFile.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat: %v", ErrFilesystem, err)
	}
	if err := d.diskFile.Chmod(fi.Mode().Perm() & 0o444); err != nil {
		d.log.Warn("failed to mark image read-only", "error", err)
	}

	if err := os.Rename(d.tempPath, d.finalPathValue); err != nil {
		return fmt.Errorf("%w: move into place: %v", ErrFilesystem, err)
	}
	d.tempPath = ""

	d.log.Info("completed writing image", "path", d.finalPathValue)
	return nil
}

// convertContainer implements spec.md §4.2's QCOW2 conversion step:
// convert into a fresh temp file beside final_path, then swap it in for
// the original temp file.
func (d *download) convertContainer() error {
	d.log.Info("unpacking QCOW2 file")

	convertedPath, err := tempSibling(d.finalPathValue)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFilesystem, err)
	}
	converted, err := os.OpenFile(convertedPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFilesystem, err)
	}

	if err := convertCOW(d.diskFile, converted); err != nil {
		converted.Close()
		os.Remove(convertedPath)
		return fmt.Errorf("%w: convert container: %v", ErrFilesystem, err)
	}

	oldTemp := d.tempPath
	d.diskFile.Close()
	os.Remove(oldTemp)

	d.tempPath = convertedPath
	d.diskFile = converted

	if fi, err := converted.Stat(); err == nil {
		d.writtenUncompressed = fi.Size()
	}

	return nil
}

// success implements spec.md §4.2 "Success".
func (d *download) success() error {
	d.state = stateDone
	if err := d.makeLocalCopy(); err != nil {
		return err
	}
	if d.diskFile != nil {
		d.diskFile.Close()
		d.diskFile = nil
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
