package ocrsession

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/ksuid"
)

// createTempFileName generates a file name within the temp directory.
// If the argument is an empty string the name is generated in ksuid
// format.
func createTempFileName(fileName string) (string, error) {
	tempDir := os.TempDir()

	if fileName == "" {
		fileName = ksuid.New().String()
	}

	return filepath.Join(tempDir, fileName), nil
}

func saveBytesToFileName(bytes []byte, tmpFileName string) error {
	return os.WriteFile(tmpFileName, bytes, 0600)
}

// newID is based on ksuid K-Sortable Globally Unique IDs
func newID() string {
	return ksuid.New().String()
}

// timeTrack used to measure time of selected operations
func timeTrack(start time.Time, operation string, message string, requestID string) {
	elapsed := time.Since(start)
	if requestID == "" {
		log.Info().Str("component", "OCR_PIPELINE").Dur(operation, elapsed).
			Timestamp().Msg(message)
		return
	}
	log.Info().Str("component", "OCR_PIPELINE").Dur(operation, elapsed).
		Str("RequestID", requestID).Timestamp().Msg(message)
}
