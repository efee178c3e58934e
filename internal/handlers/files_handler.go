package handlers

import (
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/damacus/iron-objects/internal/models"
	"github.com/damacus/iron-objects/internal/services"
	"github.com/damacus/iron-objects/internal/utils"
	"github.com/gabriel-vasile/mimetype"
	"github.com/labstack/echo/v4"
)

// metaFieldPrefix marks multipart form fields that become object metadata.
const metaFieldPrefix = "meta."

type FilesHandler struct {
	maxUploadBytes int64
}

func NewFilesHandler(maxUploadBytes int64) *FilesHandler {
	return &FilesHandler{maxUploadBytes: maxUploadBytes}
}

// List returns one folder of the session's bucket.
func (h *FilesHandler) List(c echo.Context) error {
	client, err := GetClient(c)
	if err != nil {
		return err
	}

	prefix := utils.NormalizePrefix(c.QueryParam("path"))
	result, err := client.ListFiles(c.Request().Context(), prefix)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, buildListing(client.State().Bucket, prefix, result))
}

func buildListing(bucket, prefix string, result services.ListResult) models.Listing {
	listing := models.Listing{
		Bucket:      bucket,
		Path:        prefix,
		Breadcrumbs: breadcrumbs(prefix),
		Folders:     make([]models.FolderInfo, 0, len(result.Folders)),
		Objects:     make([]models.ObjectInfo, 0, len(result.Files)),
		Truncated:   result.Truncated,
	}

	for _, f := range result.Folders {
		listing.Folders = append(listing.Folders, models.FolderInfo{Name: f.Name, Prefix: f.Prefix})
	}

	for _, obj := range result.Files {
		// The folder marker itself is listed under its own prefix.
		if obj.Key == prefix {
			continue
		}
		contentType := contentTypeFromExt(obj.Key)
		listing.Objects = append(listing.Objects, models.ObjectInfo{
			Key:           obj.Key,
			DisplayName:   obj.Name,
			Size:          obj.Size,
			FormattedSize: utils.FormatBytes(obj.Size),
			LastModified:  obj.LastModified,
			ContentType:   contentType,
			IsImage:       isImageType(contentType),
			IsText:        isTextType(contentType),
			IsVideo:       isVideoType(contentType),
			IsArchive:     isArchiveType(contentType, obj.Key),
			IsPreviewable: isPreviewable(contentType, obj.Size),
		})
	}
	return listing
}

func breadcrumbs(prefix string) []models.Breadcrumb {
	crumbs := []models.Breadcrumb{}
	path := ""
	for _, part := range strings.Split(strings.TrimSuffix(prefix, "/"), "/") {
		if part == "" {
			continue
		}
		path += part + "/"
		crumbs = append(crumbs, models.Breadcrumb{Name: part, Path: path})
	}
	return crumbs
}

// Upload stores the multipart "file" under ?path=, with meta.<k> fields as
// object metadata.
func (h *FilesHandler) Upload(c echo.Context) error {
	client, err := GetClient(c)
	if err != nil {
		return err
	}

	if h.maxUploadBytes > 0 {
		c.Request().Body = http.MaxBytesReader(c.Response(), c.Request().Body, h.maxUploadBytes)
	}

	file, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "No file uploaded")
	}
	if h.maxUploadBytes > 0 && file.Size > h.maxUploadBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "File too large")
	}

	src, err := file.Open()
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	data, err := io.ReadAll(src)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Failed to read upload")
	}

	metadata, err := formMetadata(c)
	if err != nil {
		return err
	}

	var opts []services.UploadOption
	if ct := file.Header.Get(echo.HeaderContentType); ct != "" && ct != echo.MIMEOctetStream {
		opts = append(opts, services.WithContentType(ct))
	}

	path := strings.Trim(c.QueryParam("path"), "/")
	result, err := client.UploadFile(c.Request().Context(), data, file.Filename, path, metadata, opts...)
	if err != nil {
		return respondError(c, err)
	}

	if isHTMX(c) {
		return HTMXRedirect(c, "/?path="+path)
	}
	return c.JSON(http.StatusCreated, result)
}

func formMetadata(c echo.Context) (map[string]string, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "Invalid form")
	}
	metadata := map[string]string{}
	for name, values := range form.Value {
		k, ok := strings.CutPrefix(name, metaFieldPrefix)
		if !ok || len(values) == 0 {
			continue
		}
		metadata[k] = values[0]
	}
	return metadata, nil
}

// Download sends the object as an attachment.
func (h *FilesHandler) Download(c echo.Context) error {
	client, err := GetClient(c)
	if err != nil {
		return err
	}

	key := c.QueryParam("key")
	data, err := client.DownloadFile(c.Request().Context(), key)
	if err != nil {
		return respondError(c, err)
	}

	contentType := contentTypeFromExt(key)
	if contentType == "application/octet-stream" {
		contentType = mimetype.Detect(data).String()
	}

	name := key[strings.LastIndex(key, "/")+1:]
	c.Response().Header().Set(echo.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	c.Response().Header().Set(echo.HeaderContentLength, strconv.Itoa(len(data)))
	return c.Blob(http.StatusOK, contentType, data)
}

// Delete removes one object.
func (h *FilesHandler) Delete(c echo.Context) error {
	client, err := GetClient(c)
	if err != nil {
		return err
	}

	result, err := client.DeleteFile(c.Request().Context(), c.QueryParam("key"))
	if err != nil {
		return respondError(c, err)
	}

	if isHTMX(c) {
		return c.NoContent(http.StatusOK)
	}
	return c.JSON(http.StatusOK, result)
}
