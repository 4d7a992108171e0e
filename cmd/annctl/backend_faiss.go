//go:build faiss

package main

import "github.com/hupe1980/annexec/backend/faiss"

func init() {
	backends["faiss"] = faiss.Factory
}
