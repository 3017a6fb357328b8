package api

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

var errTooLarge = errors.New("upload too large")

// imageRequest is the JSON form of an upload: {"image": "<data URL or base64>"}.
type imageRequest struct {
	Name      string `json:"name"`
	StudentID string `json:"student_id"`
	Image     string `json:"image"`
}

// readUpload accepts a multipart form with a "photo" file field or a JSON
// body. Form fields name and student_id are returned alongside the image.
func readUpload(c *gin.Context, maxBytes int64) (imageRequest, []byte, error) {
	multipartForm := strings.HasPrefix(c.ContentType(), "multipart/")
	if maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, bodyLimit(maxBytes, multipartForm))
	}

	if multipartForm {
		var req imageRequest
		if err := c.Request.ParseMultipartForm(32 << 20); err != nil {
			if isTooLarge(err) {
				return req, nil, errTooLarge
			}
			return req, nil, errBadForm
		}
		req.Name = c.Request.PostFormValue("name")
		req.StudentID = c.Request.PostFormValue("student_id")
		file, _, err := c.Request.FormFile("photo")
		if err != nil {
			return req, nil, nil
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return req, nil, err
		}
		if maxBytes > 0 && int64(len(data)) > maxBytes {
			return req, nil, errTooLarge
		}
		return req, data, nil
	}

	var req imageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if isTooLarge(err) {
			return req, nil, errTooLarge
		}
		if errors.Is(err, io.EOF) {
			return req, nil, nil
		}
		return req, nil, errBadJSON
	}
	data, err := decodeImage(req.Image)
	if err != nil {
		return req, nil, err
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return req, nil, errTooLarge
	}
	return req, data, nil
}

var (
	errBadJSON  = errors.New("malformed JSON body")
	errBadForm  = errors.New("malformed multipart form")
	errBadImage = errors.New("image is not valid base64")
)

// decodeImage accepts a data URL ("data:image/jpeg;base64,...") or bare
// base64. An empty string decodes to no image.
func decodeImage(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(s, "data:") {
		_, payload, ok := strings.Cut(s, ",")
		if !ok {
			return nil, errBadImage
		}
		s = payload
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
		if err != nil {
			return nil, errBadImage
		}
	}
	return data, nil
}

// bodyLimit is the raw body cap for an image of at most maxBytes: the image
// plus form overhead, base64 encoded for JSON bodies. The decoded length is
// checked against maxBytes separately.
func bodyLimit(maxBytes int64, multipartForm bool) int64 {
	const overhead = 64 << 10
	if multipartForm {
		return maxBytes + overhead
	}
	return int64(base64.StdEncoding.EncodedLen(int(maxBytes))) + overhead
}

func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large")
}
