package models

// ThumbnailInfo holds the dimensions of the rendered thumbnail
type ThumbnailInfo struct {
	Width    int `json:"width"`
	Height   int `json:"height"`
	Rotation int `json:"rotation,omitempty"`
}

// SourceImage is one scanned image of a folder as listed in scam.json.
// ThumbnailPath is its identity key everywhere in the engine.
type SourceImage struct {
	ImgPath       string        `json:"img_path"`
	PicklePath    string        `json:"pickle_path,omitempty"`
	ThumbnailPath string        `json:"thumbnail_path"`
	Width         int           `json:"width"`
	Height        int           `json:"height"`
	ThumbnailInfo ThumbnailInfo `json:"thumbnail_info"`
	Rotation      int           `json:"rotation"`
	Hidden        bool          `json:"hidden,omitempty"`
	Checked       bool          `json:"checked,omitempty"`
}

// ScamImageData is a SourceImage plus its regions. Rects is derived by the
// engine and is never read from the wire.
type ScamImageData struct {
	SourceImage
	Pages        []Region        `json:"pages,omitempty"`
	Rects        []DisplayRegion `json:"rects,omitempty"`
	OptionsIndex *int            `json:"options_index,omitempty"`
}

// Clone returns a deep copy
func (d ScamImageData) Clone() ScamImageData {
	c := d
	c.Pages = CloneRegions(d.Pages)
	if d.Rects != nil {
		c.Rects = append([]DisplayRegion(nil), d.Rects...)
	}
	if d.OptionsIndex != nil {
		idx := *d.OptionsIndex
		c.OptionsIndex = &idx
	}
	return c
}

// PreprocessOptions are the options used when the folder was preprocessed
type PreprocessOptions struct {
	GrayscaleThumbnail bool `json:"grayscale_thumbnail"`
	PPS                int  `json:"pps"`
	PreRotate          int  `json:"pre_rotate"`
	SamResize          int  `json:"sam_resize"`
	ThumbnailResize    int  `json:"thumbnail_resize"`
	UseExifRotation    bool `json:"use_exif_rotation"`
}

type PreprocessRun struct {
	Date              string            `json:"date"`
	PreprocessOptions PreprocessOptions `json:"preprocess_options"`
	Version           string            `json:"version"`
}

// ScamData is the per-folder scam.json document
type ScamData struct {
	Checked       bool               `json:"checked"`
	Files         []ScamImageData    `json:"files"`
	FolderPath    string             `json:"folder_path"`
	PreprocessRun PreprocessRun      `json:"preprocess_run"`
	ScamRuns      []any              `json:"scam_runs"`
	OptionsList   []DetectionOptions `json:"options_list,omitempty"`
}
