// Copyright 2026 The Psico SAS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/psicosas/psicosas/internal/apperror"
	"github.com/psicosas/psicosas/internal/backup"
	"github.com/psicosas/psicosas/internal/session"
)

const multipartMemory = 32 << 20

func actorFrom(r *http.Request) backup.Actor {
	p, _ := session.PrincipalFromContext(r.Context())
	if p == nil {
		return backup.Actor{}
	}
	return backup.Actor{ID: p.UserID, Role: p.Role}
}

// CreateBackup streams a backup of the bound clinic as an attachment
// @Summary Create backup
// @Tags Backup
// @Produce application/sql
// @Produce json
// @Security BearerAuth
// @Success 200 {file} file
// @Failure 403 {object} map[string]string
// @Failure 502 {object} map[string]string
// @Router /backup/create [post]
func (h *Handler) CreateBackup(w http.ResponseWriter, r *http.Request) {
	art, err := h.backups.CreateBackup(r.Context(), actorFrom(r))
	if err != nil {
		respondAppError(w, r, err, true)
		return
	}

	w.Header().Set("Content-Type", art.ContentType())
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": art.Filename()}))
	w.Header().Set("X-Backup-Strategy", art.Strategy)
	w.WriteHeader(http.StatusOK)
	w.Write(art.Body)
}

// RestoreBackup rebuilds the bound clinic from an uploaded artifact
// @Summary Restore backup
// @Tags Backup
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param backup_file formData file true "Backup artifact (.sql or .json, optionally gzip-compressed)"
// @Param allow_cross_schema formData bool false "Accept a JSON artifact from another clinic"
// @Success 200 {object} backup.RestoreResult
// @Failure 400 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Failure 413 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Router /backup/restore [post]
func (h *Handler) RestoreBackup(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if tooLarge(err) {
			respondError(w, http.StatusRequestEntityTooLarge, "backup file is too large")
			return
		}
		respondError(w, http.StatusBadRequest, "expected a multipart form with a backup_file field")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("backup_file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "backup_file is required")
		return
	}
	defer file.Close()

	allow := false
	if v := r.FormValue("allow_cross_schema"); v != "" {
		if allow, err = strconv.ParseBool(v); err != nil {
			respondError(w, http.StatusBadRequest, "allow_cross_schema must be a boolean")
			return
		}
	}

	upload, err := readUpload(file, header.Filename, header.Header.Get("Content-Encoding"), h.maxUploadBytes)
	if err != nil {
		if tooLarge(err) {
			respondError(w, http.StatusRequestEntityTooLarge, "backup file is too large")
			return
		}
		respondAppError(w, r, err, true)
		return
	}

	res, err := h.backups.RestoreBackup(r.Context(), upload, actorFrom(r), backup.RestoreOptions{AllowCrossSchema: allow})
	if err != nil {
		respondAppError(w, r, err, true)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"message": "restore completed",
		"result":  res,
	})
}

// BackupInfo reports tool availability and table sizes of the bound clinic
// @Summary Backup info
// @Tags Backup
// @Produce json
// @Security BearerAuth
// @Success 200 {object} backup.Info
// @Router /backup/info [get]
func (h *Handler) BackupInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.backups.Info(r.Context())
	if err != nil {
		respondAppError(w, r, err, true)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

var errUploadTooLarge = errors.New("upload exceeds the size limit")

// readUpload reads the artifact, inflating gzip uploads. A ".gz" suffix is
// removed from the returned filename so the inner extension selects the
// format.
func readUpload(src io.Reader, filename, encoding string, limit int64) (backup.Upload, error) {
	name := filename
	gzipped := strings.EqualFold(encoding, "gzip")
	if strings.HasSuffix(strings.ToLower(name), ".gz") {
		gzipped = true
		name = name[:len(name)-len(".gz")]
	}

	if gzipped {
		zr, err := gzip.NewReader(src)
		if err != nil {
			return backup.Upload{}, apperror.Wrap(apperror.CodeValidation, "backup file is not valid gzip", err)
		}
		defer zr.Close()
		src = zr
	}

	body, err := io.ReadAll(io.LimitReader(src, limit+1))
	if err != nil {
		if tooLarge(err) {
			return backup.Upload{}, err
		}
		return backup.Upload{}, apperror.Wrap(apperror.CodeValidation, "backup file could not be read", err)
	}
	if int64(len(body)) > limit {
		return backup.Upload{}, fmt.Errorf("%w: more than %d bytes", errUploadTooLarge, limit)
	}
	return backup.Upload{Filename: name, Body: body}, nil
}

func tooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe) || errors.Is(err, errUploadTooLarge) ||
		strings.Contains(err.Error(), "request body too large")
}
