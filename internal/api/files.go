package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	nethttp "net/http"
	"net/url"
	"strings"

	"github.com/rescale/filehub/internal/models"
)

// ListFiles fetches one page of the file collection.
// The query is validated before any request is issued.
func (c *Client) ListFiles(ctx context.Context, q models.FileCollectionQuery) (*models.PaginatedFileList, error) {
	const op = "list files"

	q = q.Normalized()
	if err := q.Validate(); err != nil {
		return nil, err
	}

	resp, err := c.readOnce(ctx, op, "/files/?"+q.Params().Encode())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := expectStatus(op, resp, nethttp.StatusOK); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, Method: resp.Request.Method, Path: resp.Request.URL.Path, StatusCode: resp.StatusCode, Err: err}
	}

	list := &models.PaginatedFileList{}

	// Servers without pagination configured answer with a bare array
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &list.Results); err != nil {
			return nil, &TransportError{Op: op, Method: resp.Request.Method, Path: resp.Request.URL.Path, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
		}
		list.Count = len(list.Results)
	} else if err := json.Unmarshal(body, list); err != nil {
		return nil, &TransportError{Op: op, Method: resp.Request.Method, Path: resp.Request.URL.Path, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	if list.Results == nil {
		list.Results = []models.File{}
	}
	return list, nil
}

// GetFile fetches one file's metadata.
func (c *Client) GetFile(ctx context.Context, fileID string) (*models.File, error) {
	const op = "get file"

	if strings.TrimSpace(fileID) == "" {
		return nil, &ValidationError{Field: "file_id", Reason: "must not be empty"}
	}

	resp, err := c.doJSON(ctx, op, nethttp.MethodGet, "/files/"+url.PathEscape(fileID)+"/", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := expectStatus(op, resp, nethttp.StatusOK); err != nil {
		return nil, err
	}

	var f models.File
	if err := decodeJSON(op, resp, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// DeleteFile deletes a single file.
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	const op = "delete file"

	if strings.TrimSpace(fileID) == "" {
		return &ValidationError{Field: "file_id", Reason: "must not be empty"}
	}

	resp, err := c.doJSON(ctx, op, nethttp.MethodDelete, "/files/"+url.PathEscape(fileID)+"/", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return expectStatus(op, resp, nethttp.StatusNoContent, nethttp.StatusOK)
}

type batchDeleteRequest struct {
	FileIDs []string `json:"file_ids"`
}

// BatchDeleteFiles deletes several files in one request. An empty id list is
// a caller error and is never sent.
func (c *Client) BatchDeleteFiles(ctx context.Context, fileIDs []string) error {
	const op = "batch delete files"

	if len(fileIDs) == 0 {
		return &ValidationError{Field: "file_ids", Reason: "batch delete requires at least one id"}
	}
	for _, id := range fileIDs {
		if strings.TrimSpace(id) == "" {
			return &ValidationError{Field: "file_ids", Reason: "ids must not be empty"}
		}
	}

	resp, err := c.doJSON(ctx, op, nethttp.MethodPost, "/files/batch_delete/", batchDeleteRequest{FileIDs: fileIDs})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return expectStatus(op, resp, nethttp.StatusOK, nethttp.StatusNoContent)
}

// UploadFile streams content as a multipart "file" field and returns the
// created File. The body is not buffered, so the request is not retried.
func (c *Client) UploadFile(ctx context.Context, filename string, content io.Reader) (*models.File, error) {
	const op = "upload file"

	if strings.TrimSpace(filename) == "" {
		return nil, &ValidationError{Field: "filename", Reason: "must not be empty"}
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, content); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := c.newRequest(ctx, nethttp.MethodPost, c.apiURL("/files/"), pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.send(c.transferClient, req, op)
	if err != nil {
		pr.Close()
		return nil, err
	}
	defer resp.Body.Close()

	if err := expectStatus(op, resp, nethttp.StatusCreated, nethttp.StatusOK); err != nil {
		return nil, err
	}

	var f models.File
	if err := decodeJSON(op, resp, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// DownloadFile streams the file's stored content to w and returns the number
// of bytes written. Relative storage references resolve against the server.
func (c *Client) DownloadFile(ctx context.Context, f models.File, w io.Writer) (int64, error) {
	const op = "download file"

	if strings.TrimSpace(f.URL) == "" {
		return 0, &ValidationError{Field: "file", Reason: fmt.Sprintf("file %s has no storage reference", f.ID)}
	}

	target, err := c.resolve(f.URL)
	if err != nil {
		return 0, &ValidationError{Field: "file", Reason: err.Error()}
	}

	req, err := c.newRequest(ctx, nethttp.MethodGet, target, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "*/*")

	resp, err := c.send(c.transferClient, req, op)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if err := expectStatus(op, resp, nethttp.StatusOK); err != nil {
		return 0, err
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, &TransportError{Op: op, Method: req.Method, Path: req.URL.Path, StatusCode: resp.StatusCode, Err: err}
	}
	return n, nil
}
