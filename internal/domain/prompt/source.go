package prompt

import (
	"os"
	"strings"
	"sync"

	"boxcount-server-go/internal/platform/logging"
)

// FallbackMissingFile is used when the prompt file does not exist at all.
const FallbackMissingFile = `
You are an expert computer vision AI specialized in counting boxes and extracting text labels from images.

Please analyze the provided image and count all visible boxes/packages/containers, extract any visible text labels, and identify box types.

Return your analysis in JSON format with total_count, box_details array, summary, and confidence_score.
`

// FallbackReadError is used when the prompt file exists but cannot be read
// or is empty.
const FallbackReadError = "Count and analyze boxes in this image, return results in JSON format."

// Template is the full instruction text written by `promptctl create`.
const Template = `You are an expert computer vision AI specialized in counting boxes and extracting text labels from images.

Please analyze the provided image and:

1. **Count all visible boxes/packages/containers** in the image
2. **Extract any visible text labels, barcodes, or identifying information** on the boxes
3. **Identify the type of boxes** (shipping boxes, product boxes, containers, etc.)
4. **Note the arrangement/stacking** of boxes if relevant

Return your analysis in the following JSON format:
{
    "total_count": <number>,
    "box_details": [
        {
            "box_id": <sequential_number>,
            "type": "<box_type>",
            "labels": ["<text1>", "<text2>"],
            "confidence": <0.0-1.0>,
            "position": "<general_position_description>"
        }
    ],
    "summary": {
        "total_boxes": <number>,
        "boxes_with_labels": <number>,
        "common_labels": ["<frequent_labels>"],
        "arrangement": "<description_of_arrangement>"
    },
    "confidence_score": <overall_confidence_0.0-1.0>
}

Be thorough and accurate. If you cannot clearly see a box or are unsure, indicate lower confidence. If no text is visible on a box, use an empty array for labels.`

// Source supplies the analysis instruction text. The file is read once per
// process and cached; a fallback guarantees the result is never empty.
type Source struct {
	path   string
	logger *logging.Logger

	once sync.Once
	text string
}

// NewSource creates a prompt source reading from the given file path.
func NewSource(path string, logger *logging.Logger) *Source {
	if path == "" {
		path = "prompt.txt"
	}
	if logger == nil {
		logger = logging.DefaultLogger
	}
	return &Source{
		path:   path,
		logger: logger,
	}
}

// Current returns the instruction text, resolving it on first use.
func (s *Source) Current() string {
	s.once.Do(func() {
		s.text = s.resolve()
	})
	return s.text
}

func (s *Source) resolve() string {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.WarnTag("PROMPT", "prompt file %s not found, using fallback prompt", s.path)
			return strings.TrimSpace(FallbackMissingFile)
		}
		s.logger.ErrorTag("PROMPT", "error reading prompt file %s: %v", s.path, err)
		return FallbackReadError
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		s.logger.WarnTag("PROMPT", "prompt file %s is empty, using fallback prompt", s.path)
		return FallbackReadError
	}

	s.logger.InfoTag("PROMPT", "loaded prompt from %s (%d characters)", s.path, len(text))
	return text
}
