package domain

import (
	"fmt"
	"math"
	"sort"
)

// Mask plane bits shared by backends and algorithms.
const (
	MaskBad       uint32 = 1 << 0
	MaskSaturated uint32 = 1 << 1
	MaskEdge      uint32 = 1 << 2
	// MaskNeighbor flags pixels dominated by a neighboring object.
	MaskNeighbor uint32 = 1 << 3
)

// Plane is a row-major float image covering Box.
type Plane struct {
	Box  Box       `json:"box"`
	Data []float32 `json:"data"`
}

// NewPlane allocates a zeroed plane.
func NewPlane(box Box) *Plane {
	return &Plane{Box: box, Data: make([]float32, box.Area())}
}

// At returns the value at absolute pixel (x, y) and whether it is in bounds.
func (p *Plane) At(x, y int) (float32, bool) {
	if !p.Box.Contains(x, y) {
		return 0, false
	}
	return p.Data[(y-p.Box.Y0)*p.Box.Width()+(x-p.Box.X0)], true
}

// Set writes the value at absolute pixel (x, y); out-of-bounds writes are ignored.
func (p *Plane) Set(x, y int, v float32) {
	if !p.Box.Contains(x, y) {
		return
	}
	p.Data[(y-p.Box.Y0)*p.Box.Width()+(x-p.Box.X0)] = v
}

func (p *Plane) clone() *Plane {
	if p == nil {
		return nil
	}
	return &Plane{Box: p.Box, Data: append([]float32(nil), p.Data...)}
}

func (p *Plane) equal(other *Plane) bool {
	if p == nil || other == nil {
		return p == other
	}
	if p.Box != other.Box || len(p.Data) != len(other.Data) {
		return false
	}
	for i := range p.Data {
		if math.Float32bits(p.Data[i]) != math.Float32bits(other.Data[i]) {
			return false
		}
	}
	return true
}

// MaskPlane is a row-major bit mask covering Box.
type MaskPlane struct {
	Box  Box      `json:"box"`
	Bits []uint32 `json:"bits"`
}

// NewMaskPlane allocates a cleared mask.
func NewMaskPlane(box Box) *MaskPlane {
	return &MaskPlane{Box: box, Bits: make([]uint32, box.Area())}
}

// At returns the mask bits at absolute pixel (x, y).
func (m *MaskPlane) At(x, y int) (uint32, bool) {
	if !m.Box.Contains(x, y) {
		return 0, false
	}
	return m.Bits[(y-m.Box.Y0)*m.Box.Width()+(x-m.Box.X0)], true
}

// Or sets bits at absolute pixel (x, y); out-of-bounds writes are ignored.
func (m *MaskPlane) Or(x, y int, bits uint32) {
	if !m.Box.Contains(x, y) {
		return
	}
	m.Bits[(y-m.Box.Y0)*m.Box.Width()+(x-m.Box.X0)] |= bits
}

func (m *MaskPlane) clone() *MaskPlane {
	if m == nil {
		return nil
	}
	return &MaskPlane{Box: m.Box, Bits: append([]uint32(nil), m.Bits...)}
}

func (m *MaskPlane) equal(other *MaskPlane) bool {
	if m == nil || other == nil {
		return m == other
	}
	if m.Box != other.Box || len(m.Bits) != len(other.Bits) {
		return false
	}
	for i := range m.Bits {
		if m.Bits[i] != other.Bits[i] {
			return false
		}
	}
	return true
}

// AffineWCS is a locally affine, wavelength-independent pixel/sky mapping:
// sky = CRVal + CD * (pixel - CRPix).
type AffineWCS struct {
	CRPix [2]float64    `json:"crpix"`
	CRVal [2]float64    `json:"crval"`
	CD    [2][2]float64 `json:"cd"`
}

// PixelToSky maps a pixel position to sky coordinates.
func (w AffineWCS) PixelToSky(x, y float64) SkyCoord {
	dx, dy := x-w.CRPix[0], y-w.CRPix[1]
	return SkyCoord{
		RA:  w.CRVal[0] + w.CD[0][0]*dx + w.CD[0][1]*dy,
		Dec: w.CRVal[1] + w.CD[1][0]*dx + w.CD[1][1]*dy,
	}
}

// SkyToPixel inverts PixelToSky. It fails when CD is singular.
func (w AffineWCS) SkyToPixel(c SkyCoord) (float64, float64, error) {
	det := w.CD[0][0]*w.CD[1][1] - w.CD[0][1]*w.CD[1][0]
	if det == 0 {
		return 0, 0, fmt.Errorf("wcs: singular CD matrix")
	}
	dra, ddec := c.RA-w.CRVal[0], c.Dec-w.CRVal[1]
	x := (w.CD[1][1]*dra - w.CD[0][1]*ddec) / det
	y := (-w.CD[1][0]*dra + w.CD[0][0]*ddec) / det
	return x + w.CRPix[0], y + w.CRPix[1], nil
}

// SkyBoxToPixels returns the pixel box enclosing the projected sky box.
func (w AffineWCS) SkyBoxToPixels(b SkyBox) (Box, error) {
	corners := []SkyCoord{
		{RA: b.RAMin, Dec: b.DecMin},
		{RA: b.RAMin, Dec: b.DecMax},
		{RA: b.RAMax, Dec: b.DecMin},
		{RA: b.RAMax, Dec: b.DecMax},
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, c := range corners {
		x, y, err := w.SkyToPixel(c)
		if err != nil {
			return Box{}, err
		}
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	return Box{
		X0: int(math.Floor(minX)),
		Y0: int(math.Floor(minY)),
		X1: int(math.Floor(maxX)) + 1,
		Y1: int(math.Floor(maxY)) + 1,
	}, nil
}

// SampledPSF holds PSF kernel images sampled at increasing wavelengths.
type SampledPSF struct {
	Wavelengths []float64 `json:"wavelengths"`
	Kernels     []Plane   `json:"kernels"`
}

// At returns the kernel sampled closest to wavelength.
func (p *SampledPSF) At(wavelength float64) (Plane, bool) {
	if p == nil || len(p.Kernels) == 0 || len(p.Kernels) != len(p.Wavelengths) {
		return Plane{}, false
	}
	best := 0
	for i, w := range p.Wavelengths {
		if math.Abs(w-wavelength) < math.Abs(p.Wavelengths[best]-wavelength) {
			best = i
		}
	}
	return p.Kernels[best], true
}

func (p *SampledPSF) clone() *SampledPSF {
	if p == nil {
		return nil
	}
	out := &SampledPSF{Wavelengths: append([]float64(nil), p.Wavelengths...)}
	for _, k := range p.Kernels {
		out.Kernels = append(out.Kernels, *k.clone())
	}
	return out
}

func (p *SampledPSF) equal(other *SampledPSF) bool {
	if p == nil || other == nil {
		return p == other
	}
	if !equalFloats(p.Wavelengths, other.Wavelengths) || len(p.Kernels) != len(other.Kernels) {
		return false
	}
	for i := range p.Kernels {
		if !p.Kernels[i].equal(&other.Kernels[i]) {
			return false
		}
	}
	return true
}

// Transmission is a photometric scaling curve sampled at increasing wavelengths.
type Transmission struct {
	Wavelengths []float64 `json:"wavelengths"`
	Throughput  []float64 `json:"throughput"`
}

// At linearly interpolates the throughput, clamping outside the sampled range.
func (t *Transmission) At(wavelength float64) float64 {
	if t == nil || len(t.Wavelengths) == 0 || len(t.Wavelengths) != len(t.Throughput) {
		return 0
	}
	n := len(t.Wavelengths)
	if wavelength <= t.Wavelengths[0] {
		return t.Throughput[0]
	}
	if wavelength >= t.Wavelengths[n-1] {
		return t.Throughput[n-1]
	}
	i := sort.SearchFloat64s(t.Wavelengths, wavelength)
	w0, w1 := t.Wavelengths[i-1], t.Wavelengths[i]
	frac := (wavelength - w0) / (w1 - w0)
	return t.Throughput[i-1] + frac*(t.Throughput[i]-t.Throughput[i-1])
}

func (t *Transmission) clone() *Transmission {
	if t == nil {
		return nil
	}
	return &Transmission{
		Wavelengths: append([]float64(nil), t.Wavelengths...),
		Throughput:  append([]float64(nil), t.Throughput...),
	}
}

func (t *Transmission) equal(other *Transmission) bool {
	if t == nil || other == nil {
		return t == other
	}
	return equalFloats(t.Wavelengths, other.Wavelengths) && equalFloats(t.Throughput, other.Throughput)
}

// Pixels is the full realized payload of a unit. All six fields are present
// together or the payload is rejected.
type Pixels struct {
	Image        *Plane        `json:"image"`
	Mask         *MaskPlane    `json:"mask"`
	Variance     *Plane        `json:"variance"`
	WCS          *AffineWCS    `json:"local_wcs"`
	PSF          *SampledPSF   `json:"local_psf"`
	Transmission *Transmission `json:"local_transmission"`
}

// Validate checks that every field is present and the planes agree in shape.
func (p *Pixels) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil payload", ErrIncompletePixels)
	}
	var missing []string
	if p.Image == nil {
		missing = append(missing, "image")
	}
	if p.Mask == nil {
		missing = append(missing, "mask")
	}
	if p.Variance == nil {
		missing = append(missing, "variance")
	}
	if p.WCS == nil {
		missing = append(missing, "local_wcs")
	}
	if p.PSF == nil {
		missing = append(missing, "local_psf")
	}
	if p.Transmission == nil {
		missing = append(missing, "local_transmission")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %v", ErrIncompletePixels, missing)
	}
	if len(p.Image.Data) != p.Image.Box.Area() {
		return fmt.Errorf("%w: image holds %d values for %d pixels", ErrIncompletePixels, len(p.Image.Data), p.Image.Box.Area())
	}
	if p.Mask.Box != p.Image.Box || len(p.Mask.Bits) != p.Image.Box.Area() {
		return fmt.Errorf("%w: mask shape differs from image", ErrIncompletePixels)
	}
	if p.Variance.Box != p.Image.Box || len(p.Variance.Data) != p.Image.Box.Area() {
		return fmt.Errorf("%w: variance shape differs from image", ErrIncompletePixels)
	}
	return nil
}

// Clone returns a deep copy.
func (p *Pixels) Clone() *Pixels {
	if p == nil {
		return nil
	}
	out := &Pixels{
		Image:        p.Image.clone(),
		Mask:         p.Mask.clone(),
		Variance:     p.Variance.clone(),
		PSF:          p.PSF.clone(),
		Transmission: p.Transmission.clone(),
	}
	if p.WCS != nil {
		wcs := *p.WCS
		out.WCS = &wcs
	}
	return out
}

// Equal compares payloads field by field, bitwise for float planes.
func (p *Pixels) Equal(other *Pixels) bool {
	if p == nil || other == nil {
		return p == other
	}
	if (p.WCS == nil) != (other.WCS == nil) || (p.WCS != nil && *p.WCS != *other.WCS) {
		return false
	}
	return p.Image.equal(other.Image) &&
		p.Mask.equal(other.Mask) &&
		p.Variance.equal(other.Variance) &&
		p.PSF.equal(other.PSF) &&
		p.Transmission.equal(other.Transmission)
}

func equalFloats(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Float64bits(a[i]) != math.Float64bits(b[i]) {
			return false
		}
	}
	return true
}
