package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/integems/caption-agent/src/models"
	"github.com/integems/caption-agent/src/services"
)

// multipart parts above this size are spooled to temp files.
const multipartMemory = 8 << 20

type imagesResponse struct {
	Message string                 `json:"message"`
	Images  []models.UploadedImage `json:"images"`
}

type uploadResponse struct {
	Message  string `json:"message"`
	ImageURL string `json:"imageUrl"`
	Caption  string `json:"caption"`
}

type deleteResponse struct {
	Message        string `json:"message"`
	DeletedImageID string `json:"deletedImageId"`
}

// Get uploaded images handler.
func (h *handler) getUploadedImages(w http.ResponseWriter, req *http.Request) {
	claims := claimsFrom(req.Context())

	images, err := h.gallery.List(req.Context(), claims.UserID)
	if err != nil {
		h.respondWithFailure(w, req, err, "An error occurred while retrieving uploaded images.")
		return
	}
	h.respondWithJSON(w, imagesResponse{Message: "Uploaded images retrieved successfully.", Images: images}, http.StatusOK)
}

// Upload image handler. The form carries the file as imageFile plus the
// optional tone, language and additionalInfo fields.
func (h *handler) uploadImage(w http.ResponseWriter, req *http.Request) {
	const failure = "An error occurred while uploading image and generating caption."

	if h.maxUploadBytes > 0 {
		if req.ContentLength > h.maxUploadBytes {
			h.respondWithError(w, "Image exceeds the upload size limit.", http.StatusRequestEntityTooLarge)
			return
		}
		req.Body = http.MaxBytesReader(w, req.Body, h.maxUploadBytes)
	}
	if err := req.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondWithError(w, "Image exceeds the upload size limit.", http.StatusRequestEntityTooLarge)
			return
		}
		h.respondWithError(w, "Invalid request format or payload. "+err.Error(), http.StatusBadRequest)
		return
	}
	defer req.MultipartForm.RemoveAll()

	file, header, err := req.FormFile("imageFile")
	if err != nil {
		h.respondWithError(w, "Image file is required.", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.respondWithFailure(w, req, err, failure)
		return
	}

	claims := claimsFrom(req.Context())
	img, err := h.gallery.Upload(req.Context(), claims.UserID, services.UploadInput{
		Data:           data,
		FileName:       header.Filename,
		MIMEType:       contentType(header.Header.Get("Content-Type"), data),
		Tone:           req.FormValue("tone"),
		Language:       req.FormValue("language"),
		AdditionalInfo: req.FormValue("additionalInfo"),
	})
	if err != nil {
		h.respondWithFailure(w, req, err, failure)
		return
	}

	h.respondWithJSON(w, uploadResponse{
		Message:  "Image uploaded and caption generated successfully.",
		ImageURL: img.ImageURL,
		Caption:  img.Caption,
	}, http.StatusOK)
}

// contentType prefers the type the client declared for the part and sniffs
// the bytes when it is missing or generic.
func contentType(declared string, data []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return mimetype.Detect(data).String()
}

// Delete image handler.
func (h *handler) deleteImage(w http.ResponseWriter, req *http.Request) {
	claims := claimsFrom(req.Context())
	imageID := req.PathValue("imageId")

	deleted, err := h.gallery.Delete(req.Context(), claims.UserID, imageID)
	if err != nil {
		h.respondWithFailure(w, req, err, "An error occurred while deleting the image.")
		return
	}
	h.respondWithJSON(w, deleteResponse{
		Message:        "Image deleted successfully from both database and storage.",
		DeletedImageID: deleted,
	}, http.StatusOK)
}
