// Package box stores arbitrarily nested values on top of a flat record store.
//
// A nested value (a map whose values may be scalars, further maps, or
// slices) is decomposed into a tree of flat records. Every nested map becomes
// its own record in the same table and is replaced in its parent by a
// reference token of the form "id:<identifier>". Slices are stored as list
// fields whose map elements are replaced by reference tokens the same way.
// Each record carries a hidden "depth" field holding its distance from the
// root of the insert that created it.
//
// # Operations
//
//	b := box.New(box.Options{Logger: log})
//	rec, err := b.Insert(ctx, table, map[string]any{"a": "a", "b": map[string]any{"c": []any{1, map[string]any{"d": "d"}}}})
//	v, err := b.GetFields(ctx, rec) // same mapping back, without "depth"
//	rec, err = b.Update(ctx, rec, map[string]any{"b": map[string]any{"c": "c2"}})
//	err = b.DeleteRecord(ctx, rec) // cascades to every linked child
//
// Updating a field that held a reference with a new map updates the linked
// child in place; any other replacement of a reference or of a list deletes
// the children it linked to.
//
// # Cache
//
// A Box memoizes record snapshots and single field values in a [Cache] for
// its whole lifetime. Every mutation issued through the Box invalidates the
// entries it affects before returning, so a Box never serves data that is
// stale with respect to its own writes. Call [Box.ClearCache] between
// unrelated sessions, or whenever the store may have been changed by someone
// else.
//
// # Errors
//
// Failures of the store are wrapped and marked with [ErrStorage]. A reference
// whose target no longer exists is not an error: it reads back as nil.
//
// A Box is not safe for concurrent use.
package box
