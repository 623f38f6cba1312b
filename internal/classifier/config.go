package classifier

import "github.com/go-sod/posture/internal/geom"

type AlgType string

const (
	AlgTypeKNN       AlgType = "KNN"
	AlgTypeHeuristic AlgType = "HEURISTIC"
	AlgTypeNone      AlgType = "NONE"
)

type Config struct {
	Type         AlgType               `envconfig:"POSTURE_CLASSIFIER_TYPE" default:"KNN"`
	KNum         int                   `envconfig:"POSTURE_CLASSIFIER_K" default:"3"`
	DistanceFunc geom.DistanceFuncType `envconfig:"POSTURE_CLASSIFIER_DISTANCE_FUNC" default:"EUCLIDEAN"`
}

func (c Config) ClassifierType() AlgType {
	return c.Type
}
