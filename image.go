package headlessterm

import (
	"crypto/sha256"
	"sync"
	"time"
)

// ImageFormat represents the format of image data.
type ImageFormat uint8

const (
	ImageFormatRGBA ImageFormat = iota // 32-bit RGBA (4 bytes per pixel)
	ImageFormatRGB                     // 24-bit RGB (3 bytes per pixel)
	ImageFormatPNG                     // PNG encoded
)

// ImageData stores decoded image pixels and metadata.
type ImageData struct {
	ID          uint32    // Unique image ID
	ImageNumber uint32    // Client-assigned image number (I=), 0 if unset
	Width       uint32    // Image width in pixels
	Height      uint32    // Image height in pixels
	Data        []byte    // RGBA pixel data (always converted to RGBA internally)
	Hash        [32]byte  // SHA-256 hash for deduplication
	CreatedAt   time.Time // Time the image was stored
	AccessedAt  time.Time // Last access time, updated on touch (LRU clock)
}

// ImagePlacement represents a displayed instance of an image.
type ImagePlacement struct {
	ID      uint32 // Unique placement ID
	ImageID uint32 // References ImageData by id only; no back-pointer.

	// Position in terminal (cell coordinates)
	Row, Col int

	// Size in cells
	Cols, Rows int

	// Source region (crop from original image)
	SrcX, SrcY uint32
	SrcW, SrcH uint32

	// Z-index for layering (-1 = behind text, 0+ = in front)
	ZIndex int32

	// Sub-cell offset in pixels
	OffsetX, OffsetY uint32
}

// CellImage is a lightweight reference stored in each Cell.
// It contains UV coordinates for rendering the correct slice of the image.
type CellImage struct {
	PlacementID uint32 // Reference to ImagePlacement
	ImageID     uint32 // Direct reference to ImageData for quick lookup

	// Normalized texture coordinates (0.0 - 1.0)
	U0, V0 float32 // Top-left corner
	U1, V1 float32 // Bottom-right corner

	// Z-index for render ordering
	ZIndex int32
}

// KittyUpload accumulates chunks for a single in-flight transmit and
// remembers the control keys captured from the first chunk, since only
// the first chunk of a multi-chunk transfer carries them.
type KittyUpload struct {
	ImageID uint32

	Action       KittyAction
	Quiet        uint32
	PlacementID  uint32
	Format       KittyFormat
	Compression  byte
	Width        uint32 // s=
	Height       uint32 // v=
	ImageNumber  uint32 // I=
	SrcX, SrcY   uint32
	SrcW, SrcH   uint32
	Cols, Rows   uint32
	OffsetX      uint32
	OffsetY      uint32
	ZIndex       int32
	NoMoveCursor bool

	Payload []byte
}

// ImageManager handles storage, placement, and lifecycle of terminal images.
// It implements the KittyImageCache model: images and uploads are keyed by
// image id, placements reference images by id only (no back-pointer), and
// eviction never touches placements — a placement whose image has been
// evicted is simply skipped at render/lookup time.
type ImageManager struct {
	mu sync.RWMutex

	images     map[uint32]*ImageData      // id -> image data
	uploads    map[uint32]*KittyUpload    // id -> in-flight chunked upload
	placements map[uint32]*ImagePlacement // placementID -> placement
	placeOrder []uint32                   // placement insertion order, oldest first
	hashToID   map[[32]byte]uint32        // hash -> id, for Store() dedup only

	nextImageID     uint32
	nextPlacementID uint32
	lastImageID     uint32 // continuation target for i=0

	// Memory / count management
	maxTotalBytes  int64 // total_bytes budget across all cached images
	maxSingleBytes int64 // per-image cap; oversize images are rejected
	maxPlacements  int   // placements.len() cap; oldest evicted first
	usedMemory     int64
}

const (
	defaultMaxTotalBytes  = 320 * 1024 * 1024 // 320MB
	defaultMaxSingleBytes = 64 * 1024 * 1024  // 64MB per image
	defaultMaxPlacements  = 4096
)

// NewImageManager creates a new ImageManager with default settings.
func NewImageManager() *ImageManager {
	return &ImageManager{
		images:         make(map[uint32]*ImageData),
		uploads:        make(map[uint32]*KittyUpload),
		placements:     make(map[uint32]*ImagePlacement),
		hashToID:       make(map[[32]byte]uint32),
		maxTotalBytes:  defaultMaxTotalBytes,
		maxSingleBytes: defaultMaxSingleBytes,
		maxPlacements:  defaultMaxPlacements,
	}
}

// SetMaxMemory sets the maximum total memory budget for cached images.
func (m *ImageManager) SetMaxMemory(bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxTotalBytes = bytes
	m.pruneLocked()
}

// SetMaxSingleImageBytes sets the per-image size cap. Images whose decoded
// byte size exceeds this are rejected at finalize time.
func (m *ImageManager) SetMaxSingleImageBytes(bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxSingleBytes = bytes
}

// SetMaxPlacements sets the placement count cap. Oldest placements are
// evicted first once the cap is reached.
func (m *ImageManager) SetMaxPlacements(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxPlacements = n
	m.evictExcessPlacementsLocked()
}

// MaxSingleImageBytes returns the per-image size cap.
func (m *ImageManager) MaxSingleImageBytes() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxSingleBytes
}

// MaxPlacements returns the placement count cap.
func (m *ImageManager) MaxPlacements() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxPlacements
}

// NextImageID allocates and returns the next auto-assigned image id.
func (m *ImageManager) NextImageID() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextImageID++
	return m.nextImageID
}

// LastImageID returns the id most recently transmitted, used to resolve
// continuation chunks sent with i=0.
func (m *ImageManager) LastImageID() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastImageID
}

// SetLastImageID records the id of the most recently transmitted image.
func (m *ImageManager) SetLastImageID(id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastImageID = id
}

// Upload returns the in-flight upload for an image id, or nil.
func (m *ImageManager) Upload(id uint32) *KittyUpload {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.uploads[id]
}

// SetUpload stores (or replaces) the in-flight upload for an image id.
func (m *ImageManager) SetUpload(id uint32, u *KittyUpload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads[id] = u
}

// ClearUpload discards the in-flight upload for an image id (called once
// finalized, successfully or not).
func (m *ImageManager) ClearUpload(id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.uploads, id)
}

// Store adds image data (without an explicit protocol id) and returns its
// id. If an identical image exists (same content hash), returns the
// existing id instead of storing a duplicate. Used for non-Kitty image
// ingestion (e.g. Sixel) where no caller-assigned id exists.
func (m *ImageManager) Store(width, height uint32, data []byte) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	hash := sha256.Sum256(data)
	if existingID, ok := m.hashToID[hash]; ok {
		if img, ok := m.images[existingID]; ok {
			img.AccessedAt = time.Now()
			return existingID
		}
	}

	m.nextImageID++
	id := m.nextImageID
	m.storeLocked(id, 0, width, height, data, hash)
	return id
}

// StoreWithID adds image data under a specific protocol id (used by the
// Kitty finalize step), replacing any existing image with that id.
// Content-hash dedup is intentionally bypassed here: the wire protocol's
// id is authoritative.
func (m *ImageManager) StoreWithID(id uint32, imageNumber, width, height uint32, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hash := sha256.Sum256(data)
	m.storeLocked(id, imageNumber, width, height, data, hash)
}

func (m *ImageManager) storeLocked(id, imageNumber, width, height uint32, data []byte, hash [32]byte) {
	if old, ok := m.images[id]; ok {
		m.usedMemory -= int64(len(old.Data))
		if m.hashToID[old.Hash] == id {
			delete(m.hashToID, old.Hash)
		}
	}

	now := time.Now()
	img := &ImageData{
		ID:          id,
		ImageNumber: imageNumber,
		Width:       width,
		Height:      height,
		Data:        data,
		Hash:        hash,
		CreatedAt:   now,
		AccessedAt:  now,
	}

	m.images[id] = img
	m.hashToID[hash] = id
	m.usedMemory += int64(len(data))

	if id >= m.nextImageID {
		m.nextImageID = id + 1
	}

	m.pruneLocked()
}

// Image returns the image data for the given id, or nil if not found
// (including if it was evicted — callers must tolerate a miss silently).
func (m *ImageManager) Image(id uint32) *ImageData {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if img, ok := m.images[id]; ok {
		img.AccessedAt = time.Now()
		return img
	}
	return nil
}

// ImageByNumber returns the most recently created image with the given
// client-assigned image number (I=), or nil. Used by delete target n/N.
func (m *ImageManager) ImageByNumber(number uint32) *ImageData {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var newest *ImageData
	for _, img := range m.images {
		if img.ImageNumber != number {
			continue
		}
		if newest == nil || img.CreatedAt.After(newest.CreatedAt) {
			newest = img
		}
	}
	return newest
}

// Place creates a new placement and returns its id. If the placement cap
// is reached, the oldest placement is evicted first.
func (m *ImageManager) Place(p *ImagePlacement) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextPlacementID++
	p.ID = m.nextPlacementID
	m.placements[p.ID] = p
	m.placeOrder = append(m.placeOrder, p.ID)

	m.evictExcessPlacementsLocked()

	return p.ID
}

func (m *ImageManager) evictExcessPlacementsLocked() {
	for m.maxPlacements > 0 && len(m.placements) > m.maxPlacements && len(m.placeOrder) > 0 {
		oldest := m.placeOrder[0]
		m.placeOrder = m.placeOrder[1:]
		delete(m.placements, oldest)
	}
}

// Placement returns the placement for the given id, or nil if not found.
func (m *ImageManager) Placement(id uint32) *ImagePlacement {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.placements[id]
}

// Placements returns all current placements, oldest first.
func (m *ImageManager) Placements() []*ImagePlacement {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*ImagePlacement, 0, len(m.placeOrder))
	for _, id := range m.placeOrder {
		if p, ok := m.placements[id]; ok {
			result = append(result, p)
		}
	}
	return result
}

// Visible returns placements whose row lies in [top, bot], sorted
// ascending by z-index (lowest draws first, negatives draw behind text).
func (m *ImageManager) Visible(top, bot int) []*ImagePlacement {
	all := m.Placements()
	result := make([]*ImagePlacement, 0, len(all))
	for _, p := range all {
		if p.Row >= top && p.Row <= bot {
			result = append(result, p)
		}
	}
	for i := 1; i < len(result); i++ {
		for j := i; j > 0 && result[j-1].ZIndex > result[j].ZIndex; j-- {
			result[j-1], result[j] = result[j], result[j-1]
		}
	}
	return result
}

func (m *ImageManager) removePlacementLocked(id uint32) {
	if _, ok := m.placements[id]; !ok {
		return
	}
	delete(m.placements, id)
	for i, pid := range m.placeOrder {
		if pid == id {
			m.placeOrder = append(m.placeOrder[:i], m.placeOrder[i+1:]...)
			break
		}
	}
}

// RemovePlacement removes a placement by id.
func (m *ImageManager) RemovePlacement(id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removePlacementLocked(id)
}

// RemovePlacementsForImage removes all placements for a given image id.
func (m *ImageManager) RemovePlacementsForImage(imageID uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, p := range m.placements {
		if p.ImageID == imageID {
			m.removePlacementLocked(id)
		}
	}
}

// FreeUnreferencedImages drops the RGBA buffer (and cache entry) for any
// of the given image ids that currently has no remaining placement. Used
// by the uppercase delete targets, which free data only once a placement
// count reaches zero.
func (m *ImageManager) FreeUnreferencedImages(imageIDs []uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range imageIDs {
		if m.hasPlacementsForLocked(id) {
			continue
		}
		m.deleteImageDataOnlyLocked(id)
	}
}

func (m *ImageManager) hasPlacementsForLocked(imageID uint32) bool {
	for _, p := range m.placements {
		if p.ImageID == imageID {
			return true
		}
	}
	return false
}

// deleteImageDataOnlyLocked frees an image's RGBA buffer without touching
// placements (callers have already verified none remain, or don't care).
func (m *ImageManager) deleteImageDataOnlyLocked(id uint32) {
	if img, ok := m.images[id]; ok {
		m.usedMemory -= int64(len(img.Data))
		if m.hashToID[img.Hash] == id {
			delete(m.hashToID, img.Hash)
		}
		delete(m.images, id)
	}
}

// DeleteImage removes an image and all its placements, freeing its RGBA
// buffer immediately.
func (m *ImageManager) DeleteImage(id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteImageLocked(id)
}

func (m *ImageManager) deleteImageLocked(id uint32) {
	if img, ok := m.images[id]; ok {
		m.usedMemory -= int64(len(img.Data))
		if m.hashToID[img.Hash] == id {
			delete(m.hashToID, img.Hash)
		}
		delete(m.images, id)
	}

	for pid, p := range m.placements {
		if p.ImageID == id {
			m.removePlacementLocked(pid)
		}
	}
}

// Clear removes all images, uploads, and placements.
func (m *ImageManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.images = make(map[uint32]*ImageData)
	m.uploads = make(map[uint32]*KittyUpload)
	m.placements = make(map[uint32]*ImagePlacement)
	m.placeOrder = nil
	m.hashToID = make(map[[32]byte]uint32)
	m.usedMemory = 0
}

// ClearPlacements removes all placements but keeps cached image data
// (used when leaving/entering the alternate screen).
func (m *ImageManager) ClearPlacements() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placements = make(map[uint32]*ImagePlacement)
	m.placeOrder = nil
}

// ScrollPlacements shifts every placement's row by -n (as the screen
// scrolls up by n) and drops placements that fall more than 1000 rows
// off the top of history.
func (m *ImageManager) ScrollPlacements(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, p := range m.placements {
		p.Row -= n
		if p.Row < -1000 {
			m.removePlacementLocked(id)
		}
	}
}

// UsedMemory returns the current memory usage in bytes.
func (m *ImageManager) UsedMemory() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.usedMemory
}

// ImageCount returns the number of stored images.
func (m *ImageManager) ImageCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.images)
}

// PlacementCount returns the number of active placements.
func (m *ImageManager) PlacementCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.placements)
}

// WouldExceedSingleLimit reports whether a decoded image of the given byte
// size exceeds the per-image cap.
func (m *ImageManager) WouldExceedSingleLimit(size int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxSingleBytes > 0 && size > m.maxSingleBytes
}

// pruneLocked evicts least-recently-used images, oldest access first,
// until usedMemory fits within maxTotalBytes or the image map is empty.
// Eviction never touches placements: a placement left referencing an
// evicted image id is tolerated and simply skipped at render lookup.
// Must be called with the lock held.
func (m *ImageManager) pruneLocked() {
	if m.maxTotalBytes <= 0 {
		return
	}

	type candidate struct {
		id   uint32
		time time.Time
		size int64
	}
	candidates := make([]candidate, 0, len(m.images))
	for id, img := range m.images {
		candidates = append(candidates, candidate{id, img.AccessedAt, int64(len(img.Data))})
	}

	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j-1].time.After(candidates[j].time); j-- {
			candidates[j-1], candidates[j] = candidates[j], candidates[j-1]
		}
	}

	for _, c := range candidates {
		if m.usedMemory <= m.maxTotalBytes {
			break
		}
		if img, ok := m.images[c.id]; ok {
			if m.hashToID[img.Hash] == c.id {
				delete(m.hashToID, img.Hash)
			}
			delete(m.images, c.id)
			m.usedMemory -= c.size
		}
	}
}

// --- Delete-target helpers (CSI Kitty `a=d`) ---

// DeletePlacementsByPosition removes placements that overlap a given cell
// position (1:1 cell, delete target c/C and p/P) and returns the affected
// image ids.
func (m *ImageManager) DeletePlacementsByPosition(row, col int) []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var affected []uint32
	for id, p := range m.placements {
		if row >= p.Row && row < p.Row+p.Rows &&
			col >= p.Col && col < p.Col+p.Cols {
			affected = append(affected, p.ImageID)
			m.removePlacementLocked(id)
		}
	}
	return affected
}

// DeletePlacementsByPositionAndZIndex removes placements overlapping a
// cell AND matching a z-index (delete target q/Q).
func (m *ImageManager) DeletePlacementsByPositionAndZIndex(row, col int, z int32) []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var affected []uint32
	for id, p := range m.placements {
		if p.ZIndex == z &&
			row >= p.Row && row < p.Row+p.Rows &&
			col >= p.Col && col < p.Col+p.Cols {
			affected = append(affected, p.ImageID)
			m.removePlacementLocked(id)
		}
	}
	return affected
}

// DeletePlacementsByZIndex removes placements with a specific z-index
// (delete target z/Z).
func (m *ImageManager) DeletePlacementsByZIndex(z int32) []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var affected []uint32
	for id, p := range m.placements {
		if p.ZIndex == z {
			affected = append(affected, p.ImageID)
			m.removePlacementLocked(id)
		}
	}
	return affected
}

// DeletePlacementsInRow removes all placements that intersect a given row
// (delete target y/Y).
func (m *ImageManager) DeletePlacementsInRow(row int) []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var affected []uint32
	for id, p := range m.placements {
		if row >= p.Row && row < p.Row+p.Rows {
			affected = append(affected, p.ImageID)
			m.removePlacementLocked(id)
		}
	}
	return affected
}

// DeletePlacementsInColumn removes all placements that intersect a given
// column (delete target x/X).
func (m *ImageManager) DeletePlacementsInColumn(col int) []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var affected []uint32
	for id, p := range m.placements {
		if col >= p.Col && col < p.Col+p.Cols {
			affected = append(affected, p.ImageID)
			m.removePlacementLocked(id)
		}
	}
	return affected
}

// DeletePlacementsByImageIDRange removes placements whose image id falls
// in [lo, hi] inclusive (delete target r/R, which reuses the x/y fields
// as raw id bounds per the protocol).
func (m *ImageManager) DeletePlacementsByImageIDRange(lo, hi uint32) []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var affected []uint32
	for id, p := range m.placements {
		if p.ImageID >= lo && p.ImageID <= hi {
			affected = append(affected, p.ImageID)
			m.removePlacementLocked(id)
		}
	}
	return affected
}

// DeleteAllPlacements removes every placement (delete target a/A) and
// returns the set of image ids that were referenced.
func (m *ImageManager) DeleteAllPlacements() []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[uint32]bool, len(m.placements))
	affected := make([]uint32, 0, len(m.placements))
	for _, p := range m.placements {
		if !seen[p.ImageID] {
			seen[p.ImageID] = true
			affected = append(affected, p.ImageID)
		}
	}
	m.placements = make(map[uint32]*ImagePlacement)
	m.placeOrder = nil
	return affected
}

// DeleteAllImageData frees every cached image's RGBA buffer (delete
// target A, after DeleteAllPlacements has already cleared references).
func (m *ImageManager) DeleteAllImageData() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images = make(map[uint32]*ImageData)
	m.hashToID = make(map[[32]byte]uint32)
	m.usedMemory = 0
}
