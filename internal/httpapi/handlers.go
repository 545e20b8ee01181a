package httpapi

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/batch-transcriber/internal/aggregate"
	"github.com/MimeLyc/batch-transcriber/internal/batch"
	"github.com/MimeLyc/batch-transcriber/internal/jobs"
	"github.com/MimeLyc/batch-transcriber/pkg/log"
	"github.com/gin-gonic/gin"
)

func (s *Server) handleIndex(c *gin.Context) {
	routes := s.router.Routes()
	paths := make([]string, 0, len(routes))
	for _, r := range routes {
		paths = append(paths, r.Method+" "+r.Path)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "health": "/health", "endpoints": paths})
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{
		"status":       "ok",
		"model":        s.engine.Model,
		"device":       s.engine.Device,
		"compute_type": s.engine.ComputeType,
	}
	if s.sweep != nil {
		if info, err := s.sweep(time.Now()); err == nil {
			resp["stale_sweep"] = gin.H{
				"expression": info.Expression,
				"next":       info.Next.UTC(),
			}
		}
	}
	if s.queue != nil {
		stats, err := s.queue.Stats(c.Request.Context())
		if err != nil {
			log.WithComponent("http").Warnf("queue stats: %v", err)
		} else {
			resp["queue"] = stats
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSettings(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"batch": gin.H{
			"allowed_export_formats":   jobs.AllFormats,
			"allowed_audio_extensions": batch.AllowedExtensionList(),
			"max_batch_files_default":  s.batches.MaxFilesDefault(),
		},
		"transcription": gin.H{
			"model":        s.engine.Model,
			"device":       s.engine.Device,
			"compute_type": s.engine.ComputeType,
		},
	})
}

func (s *Server) handleCreateBatch(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		badRequest(c, "multipart form with 'files' is required")
		return
	}
	params, ok := paramsFromForm(c)
	if !ok {
		return
	}

	headers := form.File["files"]
	inputs := make([]batch.Input, 0, len(headers))
	opened := make([]multipart.File, 0, len(headers))
	defer func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}()
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			// left with a nil reader so the job records the failure
			inputs = append(inputs, batch.Input{Filename: fh.Filename})
			continue
		}
		opened = append(opened, f)
		inputs = append(inputs, batch.Input{Filename: fh.Filename, Content: f})
	}

	created, err := s.batches.CreateBatch(c.Request.Context(), inputs, params)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, createdResponse(created))
}

func (s *Server) handleCreateFolderBatch(c *gin.Context) {
	req, ok := folderRequestFromForm(c)
	if !ok {
		return
	}
	params, ok := paramsFromForm(c)
	if !ok {
		return
	}
	created, err := s.batches.CreateBatchFromFolder(c.Request.Context(), req, params)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, createdResponse(created))
}

func (s *Server) handlePreviewFolder(c *gin.Context) {
	req, ok := folderRequestFromForm(c)
	if !ok {
		return
	}
	preview, err := s.batches.PreviewFolder(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

type jobSummaryResponse struct {
	batch.JobSummary
	JobDetail string                 `json:"job_detail"`
	Downloads map[jobs.Format]string `json:"downloads"`
}

func (s *Server) handleBatchStatus(c *gin.Context) {
	summary, err := s.batches.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	items := make([]jobSummaryResponse, 0, len(summary.Jobs))
	for _, j := range summary.Jobs {
		items = append(items, jobSummaryResponse{
			JobSummary: j,
			JobDetail:  "/jobs/" + j.JobID,
			Downloads:  downloadLinks(j.JobID, j.Downloads),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"batch_id":   summary.BatchID,
		"created_at": summary.CreatedAt,
		"total_jobs": summary.TotalJobs,
		"summary":    summary.Counts,
		"jobs":       items,
	})
}

func (s *Server) handleBatchArchive(c *gin.Context) {
	id := c.Param("id")
	scope, err := s.batches.Scope(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	s.streamArchive(c, id, scope)
}

func (s *Server) handleBatchText(c *gin.Context) {
	id := c.Param("id")
	scope, err := s.batches.Scope(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	s.writeCombinedText(c, id, scope)
}

type createGroupRequest struct {
	BatchIDs []string `json:"batch_ids"`
	Name     *string  `json:"name"`
}

func (s *Server) handleCreateGroup(c *gin.Context) {
	var req createGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json body")
		return
	}
	group, err := s.groups.CreateGroup(c.Request.Context(), req.BatchIDs, req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"group_id":      group.GroupID,
		"name":          group.Name,
		"batch_ids":     group.BatchIDs,
		"total_batches": len(group.BatchIDs),
		"links": gin.H{
			"group":        "/batch-groups/" + group.GroupID,
			"download_zip": "/batch-groups/" + group.GroupID + "/download?format=all",
			"download_txt": "/batch-groups/" + group.GroupID + "/download/txt",
		},
	})
}

func (s *Server) handleGroupStatus(c *gin.Context) {
	summary, err := s.groups.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleGroupArchive(c *gin.Context) {
	id := c.Param("id")
	scope, err := s.groups.Scope(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	s.streamArchive(c, id, scope)
}

func (s *Server) handleGroupText(c *gin.Context) {
	id := c.Param("id")
	scope, err := s.groups.Scope(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	s.writeCombinedText(c, id, scope)
}

type jobResponse struct {
	*jobs.Job
	Downloads map[jobs.Format]string `json:"downloads"`
}

func (s *Server) handleJobStatus(c *gin.Context) {
	job, err := s.batches.Job(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobResponse{
		Job:       job,
		Downloads: downloadLinks(job.JobID, s.batches.AvailableFormats(job)),
	})
}

func (s *Server) handleJobDownload(c *gin.Context) {
	id := c.Param("id")
	format := jobs.Format(strings.ToLower(strings.TrimSpace(c.Query("format"))))
	if format == "" {
		badRequest(c, "format is required")
		return
	}
	path, err := s.batches.ArtifactPath(c.Request.Context(), id, format)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Type", format.ContentType())
	c.FileAttachment(path, fmt.Sprintf("%s.%s", id, format))
}

// streamArchive plans first so an empty selection still gets a JSON 404,
// then streams the zip straight to the client.
func (s *Server) streamArchive(c *gin.Context, id string, scope aggregate.Scope) {
	formats, err := aggregate.ParseFormatSelector(c.DefaultQuery("format", "all"))
	if err != nil {
		writeError(c, err)
		return
	}
	artifacts, err := s.aggregator.Plan(c.Request.Context(), scope, formats)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-results.zip"`, id))
	c.Status(http.StatusOK)
	n, err := aggregate.WriteZip(c.Request.Context(), c.Writer, artifacts)
	if err != nil {
		// headers are already sent
		log.WithComponent("http").Errorf("archive %s aborted after %d entries: %v", id, n, err)
	}
}

func (s *Server) writeCombinedText(c *gin.Context, id string, scope aggregate.Scope) {
	opts, ok := reportOptionsFromQuery(c)
	if !ok {
		return
	}
	text, err := s.aggregator.CombinedText(c.Request.Context(), scope, opts)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-combined.txt"`, id))
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(text))
}

func reportOptionsFromQuery(c *gin.Context) (aggregate.ReportOptions, bool) {
	opts := aggregate.DefaultReportOptions()
	var err error
	if opts.Label, err = aggregate.ParseLabel(c.Query("label")); err != nil {
		writeError(c, err)
		return opts, false
	}
	if opts.Separator, err = aggregate.ParseSeparator(c.Query("separator")); err != nil {
		writeError(c, err)
		return opts, false
	}
	flags := []struct {
		name string
		dst  *bool
	}{
		{"include_timestamps", &opts.IncludeTimestamps},
		{"include_metrics", &opts.IncludeMetrics},
		{"include_empty_jobs", &opts.IncludeEmptyJobs},
	}
	for _, f := range flags {
		if !parseBool(c, c.Query(f.name), f.name, f.dst) {
			return opts, false
		}
	}
	if raw, ok := c.GetQuery("empty_placeholder"); ok {
		opts.EmptyPlaceholder = raw
	}
	return opts, true
}

func paramsFromForm(c *gin.Context) (jobs.Params, bool) {
	beamSize := jobs.DefaultBeamSize
	if raw := strings.TrimSpace(c.PostForm("beam_size")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, "beam_size must be an integer")
			return jobs.Params{}, false
		}
		beamSize = v
	}
	vad := true
	if !parseBool(c, c.PostForm("vad_filter"), "vad_filter", &vad) {
		return jobs.Params{}, false
	}

	params, err := batch.NewParams(c.PostForm("language"), beamSize, vad, c.PostFormArray("export_formats"))
	if err != nil {
		writeError(c, err)
		return jobs.Params{}, false
	}
	return params, true
}

func folderRequestFromForm(c *gin.Context) (batch.FolderRequest, bool) {
	req := batch.FolderRequest{Path: c.PostForm("folder_path")}
	if strings.TrimSpace(req.Path) == "" {
		badRequest(c, "folder_path is required")
		return req, false
	}
	if !parseBool(c, c.PostForm("recursive"), "recursive", &req.Recursive) {
		return req, false
	}
	if raw := strings.TrimSpace(c.PostForm("max_files")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, "max_files must be an integer")
			return req, false
		}
		req.MaxFiles = &v
	}
	return req, true
}

// parseBool leaves dst untouched when raw is blank.
func parseBool(c *gin.Context, raw, name string, dst *bool) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		badRequest(c, name+" must be a boolean")
		return false
	}
	*dst = v
	return true
}

func createdResponse(created *batch.Created) gin.H {
	resp := gin.H{
		"batch_id": created.BatchID,
		"status":   jobs.StatusQueued,
		"jobs":     created.Jobs,
		"links":    gin.H{"batch": "/batches/" + created.BatchID},
	}
	if created.SourceFolder != "" {
		resp["source_folder"] = created.SourceFolder
		resp["max_files"] = created.MaxFiles
	}
	return resp
}

func downloadLinks(jobID string, formats []jobs.Format) map[jobs.Format]string {
	ret := make(map[jobs.Format]string, len(formats))
	for _, f := range formats {
		ret[f] = fmt.Sprintf("/jobs/%s/download?format=%s", jobID, f)
	}
	return ret
}
