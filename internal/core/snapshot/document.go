package snapshot

// Kind names an object type in the scene graph.
type Kind string

const (
	KindRect   Kind = "rect"
	KindCircle Kind = "circle"
	KindText   Kind = "text"
	KindPath   Kind = "path"
)

func (k Kind) Valid() bool {
	switch k {
	case KindRect, KindCircle, KindText, KindPath:
		return true
	default:
		return false
	}
}

// Point is one vertex of a free-drawing stroke.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Object is the persisted form of one scene object. Only structural and
// interaction-affecting attributes live here; selection and hover never do.
type Object struct {
	ID   string `json:"id" yaml:"id"`
	Type Kind   `json:"type" yaml:"type"`

	Left   float64 `json:"left" yaml:"left"`
	Top    float64 `json:"top" yaml:"top"`
	Width  float64 `json:"width,omitempty" yaml:"width,omitempty"`
	Height float64 `json:"height,omitempty" yaml:"height,omitempty"`
	Radius float64 `json:"radius,omitempty" yaml:"radius,omitempty"`
	Angle  float64 `json:"angle,omitempty" yaml:"angle,omitempty"`
	ScaleX float64 `json:"scaleX" yaml:"scaleX"`
	ScaleY float64 `json:"scaleY" yaml:"scaleY"`

	Fill        string  `json:"fill,omitempty" yaml:"fill,omitempty"`
	Stroke      string  `json:"stroke,omitempty" yaml:"stroke,omitempty"`
	StrokeWidth float64 `json:"strokeWidth,omitempty" yaml:"strokeWidth,omitempty"`
	Text        string  `json:"text,omitempty" yaml:"text,omitempty"`
	FontSize    float64 `json:"fontSize,omitempty" yaml:"fontSize,omitempty"`
	Path        []Point `json:"path,omitempty" yaml:"path,omitempty"`

	Selectable    bool `json:"selectable" yaml:"selectable"`
	Evented       bool `json:"evented" yaml:"evented"`
	LockMovementX bool `json:"lockMovementX" yaml:"lockMovementX"`
	LockMovementY bool `json:"lockMovementY" yaml:"lockMovementY"`
	LockScalingX  bool `json:"lockScalingX" yaml:"lockScalingX"`
	LockScalingY  bool `json:"lockScalingY" yaml:"lockScalingY"`
	LockRotation  bool `json:"lockRotation" yaml:"lockRotation"`
}

// Locked reports whether every lock flag is set.
func (o Object) Locked() bool {
	return o.LockMovementX && o.LockMovementY && o.LockScalingX && o.LockScalingY && o.LockRotation
}

// Document is the full persisted scene. Objects are in stacking order,
// bottom first.
type Document struct {
	Version    int      `json:"version" yaml:"version"`
	Background string   `json:"background" yaml:"background"`
	Objects    []Object `json:"objects" yaml:"objects"`
}

func (d Document) Clone() Document {
	out := Document{Version: d.Version, Background: d.Background}
	if d.Objects != nil {
		out.Objects = make([]Object, len(d.Objects))
		for i, o := range d.Objects {
			if o.Path != nil {
				o.Path = append([]Point(nil), o.Path...)
			}
			out.Objects[i] = o
		}
	}
	return out
}
