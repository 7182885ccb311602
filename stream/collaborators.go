package stream

// AssetLoader is the injected collaborator that performs the actual tile IO
// The streaming core never interprets tile bytes; it only orchestrates when
// loads happen and how much memory the results may hold
type AssetLoader interface {
	// LoadTileSync decodes a tile's assets and returns the bytes now resident
	LoadTileSync(tileName string) (int64, error)

	// UnloadTileSync releases a tile's assets
	UnloadTileSync(tileName string) error
}

// Renderer receives tile lifecycle notifications for GPU upload and draw lists
// The core never issues GPU calls itself
type Renderer interface {
	OnTileLoaded(tileName string)
	OnTileUnloaded(tileName string)
}

// NopRenderer satisfies Renderer for headless tools and tests
type NopRenderer struct{}

func (NopRenderer) OnTileLoaded(string)   {}
func (NopRenderer) OnTileUnloaded(string) {}
