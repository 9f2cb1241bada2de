package proxy

// ChatRequest is an OpenAI-compatible chat completion request.
type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []ChatMessage   `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// ChatMessage carries either a plain string or a list of ContentParts.
type ChatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ContentPart is one element of a multimodal message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
	File     *FilePart `json:"file,omitempty"`
}

// ImageURL references an image, usually as a base64 data URL.
type ImageURL struct {
	URL string `json:"url"`
}

// FilePart attaches a document such as a PDF.
type FilePart struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

// ResponseFormat asks the model for a JSON answer.
type ResponseFormat struct {
	Type string `json:"type"`
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: "text", Text: text}
}

// ImagePart builds an image content part from a data URL.
func ImagePart(dataURL string) ContentPart {
	return ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: dataURL}}
}

// FileAttachment builds a file content part from a data URL.
func FileAttachment(name, dataURL string) ContentPart {
	return ContentPart{Type: "file", File: &FilePart{Filename: name, FileData: dataURL}}
}

type apiErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error *apiErrorBody `json:"error"`
}

// chatResponse is the subset of a completion response that is read back.
type chatResponse struct {
	Model   string        `json:"model"`
	Error   *apiErrorBody `json:"error,omitempty"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}
