package graph_test

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/havenfield/reductor/graph"
	"github.com/havenfield/reductor/thunk"
)

func value(digest string) thunk.Hash {
	return thunk.New(thunk.TypeValue, digest, 1)
}

func TestSingleReadyLeaf(t *testing.T) {
	Convey("Given a thunk with only terminal inputs", t, func() {
		loader := thunk.MapLoader{}
		leaf := thunk.Thunk{
			Inputs:  []thunk.Hash{value("a")},
			Action:  thunk.Action{Argv: []string{"/bin/true"}},
			Outputs: []thunk.OutputTag{thunk.TagMain},
		}
		h := loader.Put(leaf)
		g := graph.New(loader)

		So(g.AddThunk(h), ShouldBeNil)

		Convey("it is immediately order-one", func() {
			ready, err := g.OrderOneDependencies(h)
			So(err, ShouldBeNil)
			So(ready, ShouldResemble, map[thunk.Hash]struct{}{h: {}})
		})

		Convey("size reflects the single tracked node", func() {
			So(g.Size(), ShouldEqual, 1)
		})
	})
}

func TestChainOfTwoCascades(t *testing.T) {
	Convey("Given root depending on leaf depending on a value", t, func() {
		loader := thunk.MapLoader{}
		leaf := thunk.Thunk{
			Inputs:  []thunk.Hash{value("a")},
			Outputs: []thunk.OutputTag{thunk.TagMain},
		}
		leafHash := loader.Put(leaf)
		root := thunk.Thunk{
			Inputs:  []thunk.Hash{leafHash},
			Outputs: []thunk.OutputTag{thunk.TagMain},
		}
		rootHash := loader.Put(root)
		g := graph.New(loader)
		So(g.AddThunk(rootHash), ShouldBeNil)

		Convey("only the leaf is initially ready", func() {
			ready, err := g.OrderOneDependencies(rootHash)
			So(err, ShouldBeNil)
			So(ready, ShouldResemble, map[thunk.Hash]struct{}{leafHash: {}})
		})

		Convey("forcing the leaf makes root ready under a new hash", func() {
			leafOut := value("leaf-result")
			newReady, ok, err := g.Force(leafHash, []thunk.ThunkOutput{{Hash: leafOut, Tag: thunk.TagMain}})
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(len(newReady), ShouldEqual, 1)

			var newRootHash thunk.Hash
			for h := range newReady {
				newRootHash = h
			}
			So(newRootHash, ShouldNotEqual, rootHash)

			updated, ok := g.UpdatedHash(rootHash)
			So(ok, ShouldBeTrue)
			So(updated, ShouldEqual, newRootHash)

			orig, ok := g.OriginalHash(newRootHash)
			So(ok, ShouldBeTrue)
			So(orig, ShouldEqual, rootHash)

			Convey("and forcing that root resolves the original target", func() {
				finalVal := value("final")
				newReady2, ok, err := g.Force(newRootHash, []thunk.ThunkOutput{{Hash: finalVal, Tag: thunk.TagMain}})
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(len(newReady2), ShouldEqual, 0)

				finalHash, ok := g.UpdatedHash(rootHash)
				So(ok, ShouldBeTrue)
				So(finalHash, ShouldEqual, finalVal)
				So(g.Size(), ShouldEqual, 0)
			})
		})
	})
}

func TestForceIdempotence(t *testing.T) {
	Convey("Given a single leaf thunk", t, func() {
		loader := thunk.MapLoader{}
		leaf := thunk.Thunk{Inputs: []thunk.Hash{value("a")}, Outputs: []thunk.OutputTag{thunk.TagMain}}
		h := loader.Put(leaf)
		g := graph.New(loader)
		So(g.AddThunk(h), ShouldBeNil)

		outputs := []thunk.ThunkOutput{{Hash: value("result"), Tag: thunk.TagMain}}
		_, ok1, err1 := g.Force(h, outputs)
		So(err1, ShouldBeNil)
		So(ok1, ShouldBeTrue)

		Convey("forcing the same already-resolved hash again is a no-op", func() {
			newReady, ok2, err2 := g.Force(h, outputs)
			So(err2, ShouldBeNil)
			So(ok2, ShouldBeFalse)
			So(newReady, ShouldBeNil)
		})
	})
}

func TestSharedDependencyFanOutCascadesOnce(t *testing.T) {
	Convey("Given two dependents sharing one leaf", t, func() {
		loader := thunk.MapLoader{}
		leaf := thunk.Thunk{Inputs: []thunk.Hash{value("shared")}, Outputs: []thunk.OutputTag{thunk.TagMain}}
		leafHash := loader.Put(leaf)
		depA := thunk.Thunk{Inputs: []thunk.Hash{leafHash, value("only-a")}, Outputs: []thunk.OutputTag{thunk.TagMain}}
		depAHash := loader.Put(depA)
		depB := thunk.Thunk{Inputs: []thunk.Hash{leafHash, value("only-b")}, Outputs: []thunk.OutputTag{thunk.TagMain}}
		depBHash := loader.Put(depB)
		root := thunk.Thunk{Inputs: []thunk.Hash{depAHash, depBHash}, Outputs: []thunk.OutputTag{thunk.TagMain}}
		rootHash := loader.Put(root)

		g := graph.New(loader)
		So(g.AddThunk(rootHash), ShouldBeNil)

		ready, err := g.OrderOneDependencies(rootHash)
		So(err, ShouldBeNil)
		So(ready, ShouldResemble, map[thunk.Hash]struct{}{leafHash: {}})

		newReady, ok, err := g.Force(leafHash, []thunk.ThunkOutput{{Hash: value("leaf-out"), Tag: thunk.TagMain}})
		So(err, ShouldBeNil)
		So(ok, ShouldBeTrue)

		Convey("both dependents become ready, root does not (it still awaits both)", func() {
			So(len(newReady), ShouldEqual, 2)
			for h := range newReady {
				th, err := g.GetThunk(h)
				So(err, ShouldBeNil)
				So(th.PendingCount(), ShouldEqual, 0)
			}
			rootNow, ok := g.UpdatedHash(rootHash)
			So(ok, ShouldBeTrue)
			rootThunk, err := g.GetThunk(rootNow)
			So(err, ShouldBeNil)
			So(rootThunk.PendingCount(), ShouldEqual, 2)
		})
	})
}

func TestForceOfUnknownHashIsNoOp(t *testing.T) {
	Convey("Forcing a hash the graph has never seen", t, func() {
		g := graph.New(thunk.MapLoader{})
		newReady, ok, err := g.Force(value("never-added"), []thunk.ThunkOutput{{Hash: value("x"), Tag: thunk.TagMain}})
		So(err, ShouldBeNil)
		So(ok, ShouldBeFalse)
		So(newReady, ShouldBeNil)
	})
}

func TestAddThunkIsIdempotent(t *testing.T) {
	Convey("Adding the same thunk twice does not duplicate state", t, func() {
		loader := thunk.MapLoader{}
		leaf := thunk.Thunk{Inputs: []thunk.Hash{value("a")}, Outputs: []thunk.OutputTag{thunk.TagMain}}
		h := loader.Put(leaf)
		g := graph.New(loader)

		So(g.AddThunk(h), ShouldBeNil)
		So(g.AddThunk(h), ShouldBeNil)
		So(g.Size(), ShouldEqual, 1)
	})
}

func TestValueAndExecutableDependencies(t *testing.T) {
	Convey("Given a thunk referencing both value and executable inputs", t, func() {
		loader := thunk.MapLoader{}
		exe := thunk.New(thunk.TypeExecutable, "bin", 1024)
		leaf := thunk.Thunk{Inputs: []thunk.Hash{value("a"), exe}, Outputs: []thunk.OutputTag{thunk.TagMain}}
		h := loader.Put(leaf)
		g := graph.New(loader)
		So(g.AddThunk(h), ShouldBeNil)

		So(g.ValueDependencies(), ShouldResemble, []thunk.Hash{value("a")})
		So(g.ExecutableDependencies(), ShouldResemble, []thunk.Hash{exe})
	})
}
