package geom

// Point is a flattened feature vector, for example the x,y,z triples of a
// landmark set laid out one after another.
type Point []float64

func NewPoint(vec []float64) Point {
	return vec
}

func (v Point) Dimensions() int {
	return len(v)
}

func (v Point) Dim(idx int) float64 {
	return v[idx]
}

func (v Point) Points() []float64 {
	return v
}

func (v Point) Copy() Point {
	var v1 = make(Point, len(v))
	copy(v1, v)
	return v1
}

func (v Point) SizeEqual(vec Point) bool {
	return len(v) == len(vec)
}

func (v Point) Equal(vec Point) bool {
	if len(v) != len(vec) {
		return false
	}
	for i, value := range v {
		if vec[i] != value {
			return false
		}
	}
	return true
}

// Triples splits the point into consecutive groups of three coordinates.
// Trailing values that do not fill a group are dropped.
func (v Point) Triples() [][3]float64 {
	out := make([][3]float64, len(v)/3)
	for i := range out {
		out[i] = [3]float64{v[3*i], v[3*i+1], v[3*i+2]}
	}
	return out
}

// FromTriples flattens coordinate triples into a point.
func FromTriples(triples [][3]float64) Point {
	v := make(Point, 0, len(triples)*3)
	for _, t := range triples {
		v = append(v, t[0], t[1], t[2])
	}
	return v
}
