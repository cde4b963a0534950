package media

type AssetType string

const (
	AssetTypeThumbnail AssetType = "thumbnail"
	AssetTypePreview   AssetType = "preview"
)

const (
	ThumbnailFileExtension = ".jpg"
	RenderJpegQuality      = 90
)
