package domain

import "fmt"

// FunctionalPart is a three-letter code grouping validation rules by the IFC concept they check.
type FunctionalPart string

var functionalPartNames = map[FunctionalPart]string{
	"PJS": "Project definition",
	"GRF": "Georeferencing",
	"BLT": "Built elements",
	"ASM": "Assemblies",
	"SPA": "Spaces",
	"VRT": "Virtual elements",
	"OJT": "Objects typing",
	"STR": "Structural items and actions",
	"CTR": "Constraints",
	"GRP": "Groups",
	"SPS": "Spatial breakdown",
	"MAT": "Materials",
	"PSE": "Properties for object",
	"QTY": "Quantities for objects",
	"CLS": "Classification reference",
	"ANN": "Annotations",
	"LIB": "Library reference",
	"DOC": "Documentation reference",
	"LAY": "Presentation layer",
	"CTX": "Presentation Colours and Textures",
	"POR": "Ports connectivity & nesting",
	"OJP": "Object placement",
	"POS": "Positioning elements",
	"GEM": "Geometry representation",
	"VER": "Versioning / revision control",
	"CST": "Costing",
	"SDL": "Scheduling of activities",
	"LOP": "Local placement",
	"GRD": "Grid",
	"AXG": "Axis geometry",
	"TAS": "Tessellated (i.e., meshes)",
	"SWE": "Sweeps (i.e., extrusions, lofts, blends)",
	"MPD": "Mapped geometry",
	"LIP": "Linear placement",
	"ALB": "Alignment",
	"ALS": "Alignment geometry",
	"BRP": "Boundary Representation (BREP)",
	"TFM": "Transformations",
	"RCO": "Relational constructs",
	"GDP": "Grid placement",
	"RFT": "Referent",
	"PBG": "Point-based geometry",
	"CSG": "Constructive Solid Geometry (CSG)",
	"BBX": "Bounding box",
	"CPD": "Clipped representations",
}

// parents are listed in lookup order; LOP, LIP and GDP sit under both POS and OJP and resolve to POS.
var functionalPartTree = []struct {
	parent   FunctionalPart
	children []FunctionalPart
}{
	{"POS", []FunctionalPart{"LOP", "LIP", "GDP", "GRD", "ALB", "RFT"}},
	{"GEM", []FunctionalPart{"TAS", "SWE", "MPD", "BRP", "TFM", "BBX", "RCO", "CPD", "ALS"}},
	{"OJP", []FunctionalPart{"LOP", "LIP", "GDP"}},
}

type PartNode struct {
	Code     FunctionalPart `json:"code"`
	Name     string         `json:"name"`
	SubParts []PartNode     `json:"sub_parts"`
}

func (p FunctionalPart) Name() string { return functionalPartNames[p] }

func (p FunctionalPart) Valid() bool {
	_, ok := functionalPartNames[p]
	return ok
}

func children(p FunctionalPart) []FunctionalPart {
	for _, n := range functionalPartTree {
		if n.parent == p {
			return n.children
		}
	}
	return nil
}

// PartHierarchy returns the subtree rooted at code.
func PartHierarchy(code FunctionalPart) (PartNode, error) {
	if !code.Valid() {
		return PartNode{}, fmt.Errorf("%w: functional part %q does not exist", ErrInvalidArgument, code)
	}
	var build func(FunctionalPart) PartNode
	build = func(c FunctionalPart) PartNode {
		node := PartNode{Code: c, Name: c.Name(), SubParts: []PartNode{}}
		for _, ch := range children(c) {
			node.SubParts = append(node.SubParts, build(ch))
		}
		return node
	}
	return build(code), nil
}

// PartParent returns the first parent listing code, or false for top-level parts.
func PartParent(code FunctionalPart) (PartNode, bool) {
	for _, n := range functionalPartTree {
		for _, ch := range n.children {
			if ch == code {
				return PartNode{Code: n.parent, Name: n.parent.Name()}, true
			}
		}
	}
	return PartNode{}, false
}
