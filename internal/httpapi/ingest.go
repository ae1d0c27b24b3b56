package httpapi

import (
	"bufio"
	"bytes"
	"net/http"
	"strconv"
	"strings"

	"github.com/outbackwave/cdxindex/internal/apierr"
	"github.com/outbackwave/cdxindex/internal/canon"
	"github.com/outbackwave/cdxindex/internal/kvstore"
	"github.com/outbackwave/cdxindex/internal/record"
	"github.com/outbackwave/cdxindex/safety"
)

// maxIngestBytes bounds one bulk ingest/delete request body, independent
// of shield.MaxFormBody's limit (which only applies to form-encoded
// bodies, not the raw CDX text this endpoint reads).
const maxIngestBytes = 64 << 20

// ingestField order matches DEFAULT_FIELDS: urlkey timestamp url mime
// status digest redirecturl robotflags length offset filename, optionally
// followed by the three CDX14 original* fields.
const (
	fieldURLKey = iota
	fieldTimestamp
	fieldURL
	fieldMime
	fieldStatus
	fieldDigest
	fieldRedirect
	fieldRobotFlags
	fieldLength
	fieldOffset
	fieldFilename
	minFields
)

// parseCDXLine turns one CDX text line into a Capture. recanonicalize
// controls whether urlkey is trusted verbatim (0) or recomputed from the
// url field (1).
func parseCDXLine(c *canon.Canonicalizer, line string, recanonicalize bool) (record.Capture, error) {
	fields := strings.Fields(line)
	if len(fields) < minFields {
		return record.Capture{}, apierr.BadRequest("malformed CDX line (want at least %d fields): %s", minFields, line)
	}

	ts, err := strconv.ParseInt(fields[fieldTimestamp], 10, 64)
	if err != nil {
		return record.Capture{}, apierr.BadRequest("invalid timestamp %q: %v", fields[fieldTimestamp], err)
	}

	urlkey := fields[fieldURLKey]
	if recanonicalize {
		urlkey, err = c.Surt(fields[fieldURL])
		if err != nil {
			return record.Capture{}, apierr.BadRequest("cannot canonicalize url %q: %v", fields[fieldURL], err)
		}
	}

	length, _ := strconv.ParseInt(fields[fieldLength], 10, 64)
	offset, _ := strconv.ParseInt(fields[fieldOffset], 10, 64)

	capture := record.Capture{
		URLKey:      urlkey,
		Timestamp:   ts,
		OriginalURL: fields[fieldURL],
		MimeType:    fields[fieldMime],
		Status:      atoiOrZero(fields[fieldStatus]),
		Digest:      fields[fieldDigest],
		RedirectURL: fields[fieldRedirect],
		RobotFlags:  fields[fieldRobotFlags],
		Length:      length,
		Offset:      offset,
		Filename:    fields[fieldFilename],
	}
	if len(fields) >= minFields+3 {
		capture.HasOriginal = true
		capture.OriginalLength, _ = strconv.ParseInt(fields[minFields], 10, 64)
		capture.OriginalOffset, _ = strconv.ParseInt(fields[minFields+1], 10, 64)
		capture.OriginalFilename = fields[minFields+2]
	}
	return capture, nil
}

func atoiOrZero(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// ingestResult reports what a bulk ingest did, for the response body.
type ingestResult struct {
	CapturesAdded int      `json:"capturesAdded"`
	AliasesAdded  int      `json:"aliasesAdded"`
	SkippedLines  []string `json:"skippedLines,omitempty"`
}

func (h *handler) ingest(w http.ResponseWriter, r *http.Request) {
	if h.deps.Config.SecondaryMode {
		writeError(w, apierr.Forbidden("write on read-only secondary"))
		return
	}
	idx, name, err := h.getIndex(r, true)
	if err != nil {
		writeError(w, err)
		return
	}

	recanonicalize := r.URL.Query().Get("recanonicalize") == "1"
	badLines := r.URL.Query().Get("badLines")
	if badLines == "" {
		badLines = "error"
	}
	if badLines != "error" && badLines != "skip" {
		writeError(w, apierr.BadRequest("badLines must be error or skip, got %q", badLines))
		return
	}

	body, err := safety.LimitedReadAll(r.Body, maxIngestBytes)
	if err != nil {
		writeError(w, apierr.BadRequest("ingest body too large: %v", err))
		return
	}

	batch, err := idx.BeginUpdate(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	defer batch.Discard()

	result := ingestResult{}
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, " CDX") {
			continue
		}
		if strings.HasPrefix(line, "@alias ") {
			if err := ingestAlias(h.deps.Canon, batch, line); err != nil {
				if badLines == "skip" {
					result.SkippedLines = append(result.SkippedLines, line)
					continue
				}
				writeError(w, err)
				return
			}
			result.AliasesAdded++
			continue
		}

		capture, err := parseCDXLine(h.deps.Canon, line, recanonicalize)
		if err != nil {
			if badLines == "skip" {
				result.SkippedLines = append(result.SkippedLines, line)
				continue
			}
			writeError(w, err)
			return
		}
		if err := batch.PutCapture(capture); err != nil {
			writeError(w, err)
			return
		}
		result.CapturesAdded++
	}
	if err := scanner.Err(); err != nil {
		writeError(w, apierr.BadRequest("read ingest body: %v", err))
		return
	}

	seq, err := batch.Commit(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	h.logger(r).Info("ingest", "collection", name, "captures", result.CapturesAdded, "aliases", result.AliasesAdded, "sequence", seq)
	h.logEvent(r, "ingest", name, true)
	writeJSON(w, http.StatusOK, result)
}

func ingestAlias(c *canon.Canonicalizer, batch *kvstore.Batch, line string) error {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return apierr.BadRequest("malformed @alias line (want @alias <alias_url> <target_url>): %s", line)
	}
	aliasSURT, err := c.Surt(fields[1])
	if err != nil {
		return apierr.BadRequest("cannot canonicalize alias url %q: %v", fields[1], err)
	}
	targetSURT, err := c.Surt(fields[2])
	if err != nil {
		return apierr.BadRequest("cannot canonicalize alias target %q: %v", fields[2], err)
	}
	return batch.PutAlias(record.Alias{AliasSURT: aliasSURT, TargetSURT: targetSURT})
}

// bulkDelete implements "POST /<coll>/delete": params {recanonicalize}. The
// request body is the same CDX line grammar as ingest; each line names a
// capture to remove instead of add.
func (h *handler) bulkDelete(w http.ResponseWriter, r *http.Request) {
	if h.deps.Config.SecondaryMode {
		writeError(w, apierr.Forbidden("write on read-only secondary"))
		return
	}
	idx, name, err := h.getIndex(r, false)
	if err != nil {
		writeError(w, err)
		return
	}
	recanonicalize := r.URL.Query().Get("recanonicalize") == "1"

	body, err := safety.LimitedReadAll(r.Body, maxIngestBytes)
	if err != nil {
		writeError(w, apierr.BadRequest("delete body too large: %v", err))
		return
	}

	batch, err := idx.BeginUpdate(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	defer batch.Discard()

	deleted := 0
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" || strings.HasPrefix(line, " CDX") {
			continue
		}
		capture, err := parseCDXLine(h.deps.Canon, line, recanonicalize)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := batch.DeleteCapture(capture); err != nil {
			writeError(w, err)
			return
		}
		deleted++
	}

	seq, err := batch.Commit(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	h.logEvent(r, "delete", name, true)
	writeJSON(w, http.StatusOK, map[string]any{"capturesDeleted": deleted, "sequenceNumber": seq})
}
