// Package operation drives one kind of transfer (backup or restore) through
// its lifecycle: validation, the engine call, buffered progress, quiescence
// and the terminal state.
//
// A Controller is owned by the consumer loop. Start, Cancel, Reset, Note and
// BeginPrerequisite must be called on that loop; View is safe from anywhere.
package operation
