// Package kmeans implements k-means clustering.
//
// Used by the interim vector index to learn coarse centroids from the
// vectors accumulated in a growing segment.
package kmeans
