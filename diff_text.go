package mirror

// diffText treats text opaquely: the container's whole value is
// compared as a string, and a single text-update op is emitted carrying
// the complete new value whenever it differs. The CRDT itself (not this
// package) is responsible for turning that into a minimal patch.
func diffText(ctx *diffCtx, cid CID, oldVal, newVal string) error {
	if oldVal == newVal {
		return nil
	}
	ctx.script.emit(Op{Kind: OpTextUpdate, Target: cid, Value: newVal})
	return nil
}
