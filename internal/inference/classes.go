// Package inference runs the crop classification model over composite
// tensors. The model itself lives behind an HTTP service; this package owns
// the client, the patch orchestration and the class vocabulary.
package inference

import "fmt"

// CropClass is one entry of the model's output vocabulary.
type CropClass struct {
	ID   uint8  `json:"class_id"`
	Name string `json:"class_name"`
}

// CropClasses is the class table, indexed by class ID.
var CropClasses = []CropClass{
	{0, "unknown"},
	{1, "rice"},
	{2, "maize"},
	{3, "cassava"},
	{4, "sugarcane"},
	{5, "vegetables"},
	{6, "fruit_trees"},
	{7, "coffee"},
	{8, "rubber"},
	{9, "forest"},
	{10, "water"},
	{11, "urban"},
	{12, "barren"},
}

// NumClasses is the size of the class vocabulary.
const NumClasses = 13

// ClassName resolves a class ID, labelling out-of-vocabulary IDs instead of
// failing.
func ClassName(id uint8) string {
	if int(id) < len(CropClasses) {
		return CropClasses[id].Name
	}
	return fmt.Sprintf("class_%d", id)
}
