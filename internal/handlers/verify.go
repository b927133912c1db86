package handlers

import (
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"facerecog/internal/httpmiddleware"
	"facerecog/internal/logging"
	"facerecog/internal/verification"
)

const (
	imageField      = "liveImage"
	rollNumberField = "rollNumber"
)

func (h *Handler) verify(c *gin.Context) {
	requestID := httpmiddleware.GetRequestID(c)
	opLogger := logging.WithOperation(h.logger, "http.verify", requestID)

	if h.maxUploadBytes > 0 {
		if c.Request.ContentLength > h.maxUploadBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"success": false, "message": "Image too large"})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	req := verification.Request{RequestID: requestID}

	fileHeader, err := c.FormFile(imageField)
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"success": false, "message": "Image too large"})
		return
	case err != nil:
		opLogger.Debug("no probe image in request", zap.Error(err))
	default:
		file, err := fileHeader.Open()
		if err != nil {
			opLogger.Error("open uploaded image", zap.Error(err))
			respondError(c, &verification.Error{Kind: verification.KindInternal, Stage: verification.StageReceived, RequestID: requestID, Err: err})
			return
		}
		defer closeFile(file)
		req.FileName = fileHeader.Filename
		req.Image = file
	}
	req.RollNumber = c.PostForm(rollNumberField)

	outcome, err := h.verifier.Verify(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOutcome(c, outcome)
}

func closeFile(f multipart.File) {
	_ = f.Close()
}

func respondOutcome(c *gin.Context, outcome verification.Outcome) {
	if outcome.Verified {
		c.JSON(http.StatusOK, gin.H{
			"success":    true,
			"message":    "Face verified successfully!",
			"rollNumber": outcome.RollNumber,
			"distance":   outcome.Distance,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  false,
		"message":  "Face verification failed. Images do not match.",
		"distance": outcome.Distance,
	})
}

func respondError(c *gin.Context, err error) {
	status, message := errorResponse(verification.KindOf(err))
	c.JSON(status, gin.H{"success": false, "message": message})
}

func errorResponse(kind verification.Kind) (int, string) {
	switch kind {
	case verification.KindMissingUpload:
		return http.StatusBadRequest, "No image uploaded"
	case verification.KindMissingRollNumber:
		return http.StatusBadRequest, "Roll number is required"
	case verification.KindSubjectNotFound:
		return http.StatusNotFound, "Student not found in the database"
	case verification.KindInvokerError, verification.KindMatcherProcessFailed:
		return http.StatusInternalServerError, "Error during verification process"
	case verification.KindResultNotFound, verification.KindResultMalformed:
		return http.StatusInternalServerError, "Invalid JSON from matcher"
	case verification.KindTimeout:
		return http.StatusGatewayTimeout, "Verification timed out"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}
