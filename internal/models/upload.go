package models

// Upload describes one intake: the transient copy of the uploaded audio and where its artifacts go.
type Upload struct {
	TempPath         string `json:"-"`
	DestinationDir   string `json:"destination_dir"`
	OriginalFileName string `json:"original_file_name"`
	BaseName         string `json:"base_name"`
	Language         string `json:"language"`
	Email            string `json:"email"`
}
