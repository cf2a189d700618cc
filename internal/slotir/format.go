package slotir

import (
	"fmt"
	"strings"
)

// Disassemble returns a listing of the function, one instruction per line prefixed by its index.
func Disassemble(f *CompiledFunction) string {
	var sb strings.Builder
	if f.Type != nil {
		fmt.Fprintf(&sb, ".type %s\n", f.Type)
	}
	fmt.Fprintf(&sb, ".locals %d .frame %d\n", f.NumLocals, f.FrameSize)
	for pc, in := range f.Body {
		fmt.Fprintf(&sb, "%04d\t%s\n", pc, in)
	}
	return sb.String()
}

// String implements fmt.Stringer
func (in Instruction) String() string {
	name := in.Kind.String()
	switch in.Kind {
	case KindUnreachable, KindReturnNone:
		return name
	case KindTrap:
		return fmt.Sprintf("%s trap=%d", name, in.U1)
	case KindBranch:
		return fmt.Sprintf("%s ->%s", name, target(in.Imm))
	case KindBranchEqz, KindBranchNez:
		return fmt.Sprintf("%s s%d ->%s", name, in.A, target(in.Imm))
	case KindBranchTable:
		return fmt.Sprintf("%s s%d max=%d", name, in.A, in.U1)
	case KindReturnSlot:
		return fmt.Sprintf("%s s%d", name, in.A)
	case KindReturnImm:
		return fmt.Sprintf("%s %#x", name, in.Imm)
	case KindReturnSpan:
		return fmt.Sprintf("%s s%d n=%d", name, in.A, in.U1)
	case KindCall:
		return fmt.Sprintf("%s f%d base=s%d", name, in.U1, in.R)
	case KindCallIndirect:
		return fmt.Sprintf("%s table=%d type=%d s%d base=s%d", name, in.U1, in.U2, in.A, in.R)
	case KindCopy:
		return fmt.Sprintf("%s s%d = s%d", name, in.R, in.A)
	case KindCopyImm:
		return fmt.Sprintf("%s s%d = %#x", name, in.R, in.Imm)
	case KindSelect:
		return fmt.Sprintf("%s s%d = s%d ? s%d : s%d", name, in.R, in.U1, in.A, in.B)
	case KindGlobalGet:
		return fmt.Sprintf("%s s%d = g%d", name, in.R, in.U1)
	case KindGlobalSet:
		return fmt.Sprintf("%s g%d = s%d", name, in.U1, in.A)
	case KindGlobalSetImm:
		return fmt.Sprintf("%s g%d = %#x", name, in.U1, in.Imm)
	case KindDataDrop, KindElemDrop:
		return fmt.Sprintf("%s %d", name, in.U1)
	case KindMemorySize, KindTableSize, KindRefFunc:
		return fmt.Sprintf("%s s%d %d", name, in.R, in.U1)
	}

	switch {
	case in.Kind >= KindI32Load && in.Kind <= KindI64Load32U:
		return fmt.Sprintf("%s s%d = m%d[s%d+%#x]", name, in.R, in.U1, in.A, in.Imm)
	case in.Kind >= KindI32Store && in.Kind <= KindI64Store32:
		return fmt.Sprintf("%s m%d[s%d+%#x] = s%d", name, in.U1, in.A, in.Imm, in.B)
	case in.Kind >= KindI32StoreImm && in.Kind <= KindI64Store32Imm:
		return fmt.Sprintf("%s m%d[s%d+%#x] = %#x", name, in.U1, in.A, in.Imm, in.U2)
	case in.Kind >= KindMemoryGrow && in.Kind <= KindTableInit:
		return fmt.Sprintf("%s s%d s%d s%d %d %d", name, in.R, in.A, in.B, in.U1, in.U2)
	case strings.HasSuffix(name, "ImmRev"), strings.HasSuffix(name, "Imm"):
		return fmt.Sprintf("%s s%d = s%d %#x", name, in.R, in.A, in.Imm)
	}
	return fmt.Sprintf("%s s%d = s%d s%d", name, in.R, in.A, in.B)
}

func target(pc uint64) string {
	if pc == unresolvedTarget {
		return "?"
	}
	return fmt.Sprintf("%04d", pc)
}
