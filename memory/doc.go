// Package memory provides a semantic memory layer over a vector database.
//
// Callers store free text (with optional structured metadata) and later find
// entries that are semantically related to a query. Vector dimensionality,
// distance metrics and database wire formats stay behind two narrow
// capability interfaces.
//
// Architecture:
//   - Embedder: Text-to-vector conversion (local ONNX runner, see embedder/fastembed)
//   - Store: Vector storage backend (embedded chromem-go for local paths, Qdrant for remote endpoints)
//   - Connector: Owns collection lifecycle and the Store/Find operations
//
// Collection lifecycle:
//   - The collection is created lazily on the first Store, never at startup
//   - Its vector size and distance come from the active Embedder
//   - The connector never deletes a collection
//
// Concurrency:
//   - Connector holds no per-request state; Store and Find may run concurrently
//   - Two concurrent first Stores may both try to create the collection.
//     Store implementations make CreateCollection idempotent so both succeed.
package memory
