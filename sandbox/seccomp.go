package sandbox

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/net/bpf"

	"github.com/Skryldev/glycin/glycinerr"
)

// seccompAuditArch is the AUDIT_ARCH_X86_64 constant read at offset 4 of
// struct seccomp_data; the filter refuses to run under a foreign arch
// rather than silently mis-evaluating its syscall allow-list.
const seccompAuditArch = 0xc000003e

// allowedSyscalls is the minimal syscall allow-list a glycin worker needs:
// reading its input pipe, mapping and sealing the memfd frame buffer, and
// the handful of socket/epoll calls the RPC transport drives.
var allowedSyscalls = []uint32{
	0,   // read
	1,   // write
	9,   // mmap
	10,  // mprotect
	11,  // munmap
	12,  // brk
	14,  // rt_sigprocmask
	21,  // access
	319, // memfd_create
	72,  // fcntl
	3,   // close
	60,  // exit
	231, // exit_group
	57,  // fork (glibc TLS setup on some libc versions)
	273, // set_robust_list
	202, // futex
	46,  // sendmsg
	47,  // recvmsg
	232, // epoll_wait
	233, // epoll_ctl
	281, // epoll_pwait
	291, // epoll_create1
}

// buildSeccompProgram assembles a classic BPF program evaluating struct
// seccomp_data (syscall number at offset 0, arch at offset 4): it rejects a
// mismatched architecture, allow-lists allowedSyscalls, and kills the
// process for anything else. The returned bytes are in the kernel's
// sock_filter wire layout (8 bytes per instruction), ready to be written
// to the fd bwrap's --seccomp flag expects.
func buildSeccompProgram() ([]byte, error) {
	var insns []bpf.Instruction

	// Load architecture, jump to kill if it doesn't match x86-64.
	insns = append(insns,
		bpf.LoadAbsolute{Off: 4, Size: 4},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: seccompAuditArch, SkipTrue: 1},
		bpf.RetConstant{Val: seccompRetKillProcess},
	)

	// Load syscall number once; each allowed value gets a compare-then-allow
	// pair, falling through to the next comparison on mismatch.
	insns = append(insns, bpf.LoadAbsolute{Off: 0, Size: 4})
	for _, nr := range allowedSyscalls {
		insns = append(insns,
			bpf.JumpIf{Cond: bpf.JumpEqual, Val: nr, SkipTrue: 1},
			bpf.RetConstant{Val: seccompRetAllow},
		)
	}
	insns = append(insns, bpf.RetConstant{Val: seccompRetKillProcess})

	raw, err := bpf.Assemble(insns)
	if err != nil {
		return nil, glycinerr.Wrap(glycinerr.InternalDecoderError, "bpf.Assemble", err)
	}

	var buf bytes.Buffer
	for _, ri := range raw {
		binary.Write(&buf, binary.LittleEndian, ri.Op)
		buf.WriteByte(ri.Jt)
		buf.WriteByte(ri.Jf)
		binary.Write(&buf, binary.LittleEndian, ri.K)
	}
	return buf.Bytes(), nil
}

const (
	seccompRetKillProcess = 0x80000000
	seccompRetAllow       = 0x7fff0000
)
