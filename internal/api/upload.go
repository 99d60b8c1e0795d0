package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync/atomic"

	"github.com/Ashfaaq98/helium-console/internal/helium"
)

// progressReader reports every read to fn.
type progressReader struct {
	r      io.Reader
	total  int64
	loaded atomic.Int64
	fn     helium.ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.fn != nil {
		p.fn(p.loaded.Add(int64(n)), p.total)
	}
	return n, err
}

// PostCaseCollection uploads an archive as a multipart "file" field and
// returns the created collection. progress receives the bytes of r sent so far.
func (c *Client) PostCaseCollection(ctx context.Context, caseGUID, filename string, r io.Reader, size int64, progress helium.ProgressFunc) (helium.Collection, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("file", filename)
		if err == nil {
			_, err = io.Copy(part, &progressReader{r: r, total: size, fn: progress})
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := c.newRequest(ctx, http.MethodPost, casePath(caseGUID, "collections"), pr)
	if err != nil {
		pr.CloseWithError(err)
		return helium.Collection{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	// Uploads may outlast the request timeout of regular calls.
	resp, err := c.do(c.streamHTTP, req)
	pr.Close()
	if err != nil {
		return helium.Collection{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return helium.Collection{}, fmt.Errorf("failed to read upload response: %w", err)
	}
	var out helium.Collection
	if len(data) > 0 {
		if err := json.Unmarshal(unwrap(data), &out); err != nil {
			return helium.Collection{}, fmt.Errorf("failed to decode upload response: %w", err)
		}
	}
	return out, nil
}
