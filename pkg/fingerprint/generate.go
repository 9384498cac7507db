package fingerprint

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/entrhq/veil/pkg/types"
)

// Generator produces fresh, OS-consistent fingerprint attributes. Keys
// follow the engine's config naming ("navigator.userAgent", "screen.width").
type Generator interface {
	Generate(os types.OSType) map[string]any
	SampleWebGL(os types.OSType) WebGL
}

type screenSize struct {
	W, H  int
	Ratio float64
}

type osProfile struct {
	uaPlatform string
	platform   string
	oscpu      string
	appVersion string
	cores      []int
	screens    []screenSize
	taskbar    int
	fonts      []string
	gpus       []WebGL
}

// firefoxVersions mimics the version spread a real generator returns.
// The store pins the final UA to the engine's version anyway.
var firefoxVersions = []string{"133.0", "134.0", "135.0", "136.0"}

var osProfiles = map[types.OSType]osProfile{
	types.OSWindows: {
		uaPlatform: "Windows NT 10.0; Win64; x64",
		platform:   "Win32",
		oscpu:      "Windows NT 10.0; Win64; x64",
		appVersion: "5.0 (Windows)",
		cores:      []int{4, 6, 8, 12, 16},
		screens: []screenSize{
			{1920, 1080, 1}, {1920, 1080, 1.25}, {1536, 864, 1.25},
			{2560, 1440, 1}, {1366, 768, 1}, {1600, 900, 1},
		},
		taskbar: 40,
		fonts: []string{
			"Arial", "Calibri", "Cambria", "Consolas", "Courier New", "Georgia",
			"Segoe UI", "Segoe UI Emoji", "Tahoma", "Times New Roman", "Trebuchet MS", "Verdana",
		},
		gpus: []WebGL{
			{"Google Inc. (Intel)", "ANGLE (Intel, Intel(R) UHD Graphics 620 Direct3D11 vs_5_0 ps_5_0), or similar"},
			{"Google Inc. (Intel)", "ANGLE (Intel, Intel(R) UHD Graphics 630 Direct3D11 vs_5_0 ps_5_0), or similar"},
			{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce GTX 1650 Direct3D11 vs_5_0 ps_5_0), or similar"},
			{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce RTX 3060 Direct3D11 vs_5_0 ps_5_0), or similar"},
			{"Google Inc. (AMD)", "ANGLE (AMD, AMD Radeon RX 580 Series Direct3D11 vs_5_0 ps_5_0), or similar"},
		},
	},
	types.OSMacOS: {
		uaPlatform: "Macintosh; Intel Mac OS X 10.15",
		platform:   "MacIntel",
		oscpu:      "Intel Mac OS X 10.15",
		appVersion: "5.0 (Macintosh)",
		cores:      []int{8, 10, 12},
		screens: []screenSize{
			{1440, 900, 2}, {1512, 982, 2}, {1728, 1117, 2}, {1680, 1050, 2}, {1920, 1080, 1},
		},
		taskbar: 25,
		fonts: []string{
			"American Typewriter", "Arial", "Avenir", "Courier New", "Futura", "Geneva",
			"Georgia", "Helvetica", "Helvetica Neue", "Menlo", "Monaco", "Times",
		},
		gpus: []WebGL{
			{"Apple", "Apple M1, or similar"},
			{"Apple", "Apple M2, or similar"},
			{"Intel Inc.", "Intel(R) Iris(TM) Plus Graphics 655, or similar"},
			{"ATI Technologies Inc.", "AMD Radeon Pro 5300M, or similar"},
		},
	},
	types.OSLinux: {
		uaPlatform: "X11; Linux x86_64",
		platform:   "Linux x86_64",
		oscpu:      "Linux x86_64",
		appVersion: "5.0 (X11)",
		cores:      []int{4, 8, 12, 16},
		screens: []screenSize{
			{1920, 1080, 1}, {2560, 1440, 1}, {1366, 768, 1}, {1600, 900, 1},
		},
		taskbar: 0,
		fonts: []string{
			"Cantarell", "DejaVu Sans", "DejaVu Sans Mono", "DejaVu Serif", "FreeMono",
			"Liberation Mono", "Liberation Sans", "Liberation Serif", "Noto Sans", "Ubuntu",
		},
		gpus: []WebGL{
			{"Intel", "Mesa Intel(R) UHD Graphics 620 (KBL GT2), or similar"},
			{"Intel", "Mesa Intel(R) Xe Graphics (TGL GT2), or similar"},
			{"AMD", "AMD Radeon RX 580 Series (radeonsi, polaris10, LLVM 15.0.7, DRM 3.49), or similar"},
			{"Mesa", "llvmpipe, or similar"},
		},
	},
}

// TableGenerator draws attributes from fixed per-OS tables.
type TableGenerator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewTableGenerator returns a generator using rng, or a randomly seeded
// source when rng is nil.
func NewTableGenerator(rng *rand.Rand) *TableGenerator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &TableGenerator{rng: rng}
}

func profileFor(os types.OSType) osProfile {
	if p, ok := osProfiles[os]; ok {
		return p
	}
	return osProfiles[types.DefaultOS]
}

func pick[T any](rng *rand.Rand, items []T) T {
	return items[rng.IntN(len(items))]
}

// Generate implements Generator.
func (g *TableGenerator) Generate(os types.OSType) map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()

	p := profileFor(os)
	version := pick(g.rng, firefoxVersions)
	ua := fmt.Sprintf("Mozilla/5.0 (%s; rv:%s) Gecko/20100101 Firefox/%s", p.uaPlatform, version, version)

	screen := pick(g.rng, p.screens)
	availH := screen.H - p.taskbar
	// Browser windows rarely fill the screen exactly.
	outerW := screen.W - g.rng.IntN(screen.W/10)
	outerH := availH - g.rng.IntN(availH/10)

	fonts := make([]string, 0, len(p.fonts))
	for _, f := range p.fonts {
		if g.rng.IntN(10) < 9 {
			fonts = append(fonts, f)
		}
	}

	return map[string]any{
		"navigator.userAgent":           ua,
		"navigator.appVersion":          p.appVersion,
		"navigator.platform":            p.platform,
		"navigator.oscpu":               p.oscpu,
		"navigator.hardwareConcurrency": pick(g.rng, p.cores),
		"navigator.maxTouchPoints":      0,
		"navigator.product":             "Gecko",
		"navigator.productSub":          "20100101",
		"navigator.buildID":             "20181001000000",
		"headers.User-Agent":            ua,
		"screen.width":                  screen.W,
		"screen.height":                 screen.H,
		"screen.availWidth":             screen.W,
		"screen.availHeight":            availH,
		"screen.availTop":               0,
		"screen.availLeft":              0,
		"screen.colorDepth":             24,
		"screen.pixelDepth":             24,
		"window.devicePixelRatio":       screen.Ratio,
		"window.outerWidth":             outerW,
		"window.outerHeight":            outerH,
		"window.innerWidth":             outerW,
		"window.innerHeight":            outerH - 85,
		"window.screenX":                (screen.W - outerW) / 2,
		"window.screenY":                0,
		"fonts":                         fonts,
	}
}

// SampleWebGL implements Generator.
func (g *TableGenerator) SampleWebGL(os types.OSType) WebGL {
	g.mu.Lock()
	defer g.mu.Unlock()
	return pick(g.rng, profileFor(os).gpus)
}

// VendorsFor returns the GPU table for os. Used to check that a sampled
// signature belongs to the OS.
func VendorsFor(os types.OSType) []WebGL {
	gpus := profileFor(os).gpus
	out := make([]WebGL, len(gpus))
	copy(out, gpus)
	return out
}
