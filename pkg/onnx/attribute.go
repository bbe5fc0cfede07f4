package onnx

import "google.golang.org/protobuf/encoding/protowire"

const (
	attrGraph  protowire.Number = 6
	attrGraphs protowire.Number = 11
)

// SubgraphInputs returns the names consumed inside graphs embedded in the node's
// attributes (If/Loop/Scan bodies), recursively. The result may include names
// produced inside the subgraph itself; callers resolve them against the outer scope.
func (n *Node) SubgraphInputs() ([]string, error) {
	var names []string
	for _, attr := range n.Attributes {
		if err := collectSubgraphInputs(attr, &names); err != nil {
			return nil, err
		}
	}
	return names, nil
}

func collectSubgraphInputs(attr []byte, names *[]string) error {
	return walk(attr, func(f field) error {
		if f.num != attrGraph && f.num != attrGraphs {
			return nil
		}
		payload, err := f.bytes()
		if err != nil {
			return err
		}
		g, err := decodeGraph(payload)
		if err != nil {
			return err
		}
		for _, sn := range g.Nodes {
			for _, in := range sn.Inputs {
				if in != "" {
					*names = append(*names, in)
				}
			}
			for _, a := range sn.Attributes {
				if err := collectSubgraphInputs(a, names); err != nil {
					return err
				}
			}
		}
		for _, out := range g.Outputs {
			*names = append(*names, out.Name)
		}
		return nil
	})
}
