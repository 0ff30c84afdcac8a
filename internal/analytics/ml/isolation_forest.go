package ml

import (
	"fmt"
	"math"
	"math/rand"
)

const eulerGamma = 0.5772156649

// isolationNode is one node of an isolation tree. A node without children is a leaf.
// Field tags are short because a persisted forest holds thousands of nodes.
type isolationNode struct {
	Feature int            `json:"f,omitempty"`
	Split   float64        `json:"v,omitempty"`
	Size    int            `json:"n"`
	Left    *isolationNode `json:"l,omitempty"`
	Right   *isolationNode `json:"r,omitempty"`
}

func (n *isolationNode) leaf() bool {
	return n.Left == nil && n.Right == nil
}

// IsolationForest implements the Isolation Forest algorithm over dense feature rows.
type IsolationForest struct {
	trees         []*isolationNode
	numTrees      int
	maxSamples    int
	subSampleSize int
	maxDepth      int
	rng           *rand.Rand
}

// NewIsolationForest creates a forest of numTrees trees, each grown on at most
// maxSamples rows. The same seed and data always produce the same forest.
func NewIsolationForest(numTrees, maxSamples int, seed int64) *IsolationForest {
	return &IsolationForest{
		numTrees:   numTrees,
		maxSamples: maxSamples,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// Fit trains the forest on rows assumed to be normal.
func (f *IsolationForest) Fit(data [][]float64) error {
	if len(data) == 0 {
		return fmt.Errorf("fit: empty data")
	}

	f.subSampleSize = f.maxSamples
	if f.subSampleSize <= 0 || f.subSampleSize > len(data) {
		f.subSampleSize = len(data)
	}
	f.maxDepth = int(math.Ceil(math.Log2(float64(max(f.subSampleSize, 2)))))

	indices := make([]int, len(data))
	f.trees = make([]*isolationNode, 0, f.numTrees)
	for i := 0; i < f.numTrees; i++ {
		sample := f.sampleData(data, indices)
		f.trees = append(f.trees, f.buildTree(sample, 0))
	}
	return nil
}

// sampleData draws subSampleSize rows without replacement using a partial
// Fisher-Yates shuffle over an index buffer.
func (f *IsolationForest) sampleData(data [][]float64, indices []int) [][]float64 {
	for i := range indices {
		indices[i] = i
	}
	n := len(indices)
	sample := make([][]float64, f.subSampleSize)
	for i := 0; i < f.subSampleSize; i++ {
		j := i + f.rng.Intn(n-i)
		indices[i], indices[j] = indices[j], indices[i]
		sample[i] = data[indices[i]]
	}
	return sample
}

// buildTree recursively builds an isolation tree
func (f *IsolationForest) buildTree(data [][]float64, depth int) *isolationNode {
	if len(data) <= 1 || depth >= f.maxDepth {
		return &isolationNode{Size: len(data)}
	}

	// Only features with spread can separate the rows.
	candidates := make([]int, 0, len(data[0]))
	for feature := range data[0] {
		minVal, maxVal := featureRange(data, feature)
		if maxVal > minVal {
			candidates = append(candidates, feature)
		}
	}
	if len(candidates) == 0 {
		return &isolationNode{Size: len(data)}
	}

	feature := candidates[f.rng.Intn(len(candidates))]
	minVal, maxVal := featureRange(data, feature)
	split := minVal + f.rng.Float64()*(maxVal-minVal)

	left, right := splitData(data, feature, split)
	if len(left) == 0 || len(right) == 0 {
		return &isolationNode{Size: len(data)}
	}

	return &isolationNode{
		Feature: feature,
		Split:   split,
		Size:    len(data),
		Left:    f.buildTree(left, depth+1),
		Right:   f.buildTree(right, depth+1),
	}
}

// PathLength returns the mean isolation depth of x across all trees.
func (f *IsolationForest) PathLength(x []float64) float64 {
	if len(f.trees) == 0 {
		return 0
	}
	total := 0.0
	for _, tree := range f.trees {
		total += pathLength(tree, x)
	}
	return total / float64(len(f.trees))
}

// ScoreSample returns -2^(-E[h(x)]/c(psi)). Values lie in [-1, 0]; lower is more anomalous.
func (f *IsolationForest) ScoreSample(x []float64) float64 {
	c := averagePathLength(f.subSampleSize)
	if c == 0 {
		return -0.5
	}
	return -math.Pow(2, -f.PathLength(x)/c)
}

func pathLength(node *isolationNode, x []float64) float64 {
	depth := 0
	for !node.leaf() {
		if x[node.Feature] < node.Split {
			node = node.Left
		} else {
			node = node.Right
		}
		depth++
	}
	// Unresolved points in a leaf contribute the expected depth of a random BST.
	return float64(depth) + averagePathLength(node.Size)
}

// averagePathLength is c(n) = 2H(n-1) - 2(n-1)/n, the mean unsuccessful search
// length of a binary search tree with n nodes.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	return 2*harmonicNumber(n-1) - (2 * float64(n-1) / float64(n))
}

// harmonicNumber approximates H(n) as ln(n) + γ.
func harmonicNumber(n int) float64 {
	return math.Log(float64(n)) + eulerGamma
}

func featureRange(data [][]float64, feature int) (float64, float64) {
	minVal := data[0][feature]
	maxVal := data[0][feature]
	for _, row := range data[1:] {
		v := row[feature]
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	return minVal, maxVal
}

func splitData(data [][]float64, feature int, split float64) ([][]float64, [][]float64) {
	left := make([][]float64, 0, len(data))
	right := make([][]float64, 0, len(data))
	for _, row := range data {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	return left, right
}

// validateTree checks that a decoded tree is well formed for featureCount columns.
func validateTree(node *isolationNode, featureCount int) error {
	if node == nil {
		return fmt.Errorf("nil node")
	}
	if node.leaf() {
		if node.Size < 0 {
			return fmt.Errorf("negative leaf size %d", node.Size)
		}
		return nil
	}
	if node.Left == nil || node.Right == nil {
		return fmt.Errorf("internal node with a single child")
	}
	if node.Feature < 0 || node.Feature >= featureCount {
		return fmt.Errorf("split feature %d out of range [0,%d)", node.Feature, featureCount)
	}
	if math.IsNaN(node.Split) || math.IsInf(node.Split, 0) {
		return fmt.Errorf("non-finite split value")
	}
	if err := validateTree(node.Left, featureCount); err != nil {
		return err
	}
	return validateTree(node.Right, featureCount)
}
