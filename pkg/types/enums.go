package types

// ============================================================================
//                              HandleKind - 句柄类型
// ============================================================================

// HandleKind 可代理句柄的类型
//
// 类型只决定本地创建哪种原语，不影响代理泵送逻辑。
type HandleKind uint8

const (
	// HandleKindUnknown 未知句柄类型
	HandleKindUnknown HandleKind = iota
	// HandleKindChannel 消息通道（保留报文边界）
	HandleKindChannel
	// HandleKindSocket 字节流套接字
	HandleKindSocket
	// HandleKindSignal 信号对（只承载信号位掩码）
	HandleKindSignal
)

// String 返回句柄类型的字符串表示
func (k HandleKind) String() string {
	switch k {
	case HandleKindChannel:
		return "channel"
	case HandleKindSocket:
		return "socket"
	case HandleKindSignal:
		return "signal"
	default:
		return "unknown"
	}
}

// Valid 检查句柄类型是否为已知值
func (k HandleKind) Valid() bool {
	return k == HandleKindChannel || k == HandleKindSocket || k == HandleKindSignal
}

// ============================================================================
//                              PeerRole - 对等体角色
// ============================================================================

// PeerRole 对等体在一条逻辑连接中的角色
//
// 每个 Peer 恰好处于两种角色之一：本节点主动拨出为 Initiator，
// 接受入站连接尝试为 Acceptor。
type PeerRole uint8

const (
	// RoleUnknown 未知角色
	RoleUnknown PeerRole = iota
	// RoleInitiator 发起方（本节点拨出）
	RoleInitiator
	// RoleAcceptor 接受方（本节点接受入站连接）
	RoleAcceptor
)

// String 返回角色的字符串表示
func (r PeerRole) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleAcceptor:
		return "acceptor"
	default:
		return "unknown"
	}
}

// ============================================================================
//                              PacketType - 报文类型
// ============================================================================

// PacketType 入站报文的类型标记
//
// 注册表用它决定"查无此连接"时的行为：
// 连接发起报文允许创建新的接受方 Peer，其余报文则报错。
type PacketType uint8

const (
	// PacketUnknown 未知报文类型
	PacketUnknown PacketType = iota
	// PacketInitiation 连接发起报文
	PacketInitiation
	// PacketOngoing 既有连接的后续报文
	PacketOngoing
)

// String 返回报文类型的字符串表示
func (t PacketType) String() string {
	switch t {
	case PacketInitiation:
		return "initiation"
	case PacketOngoing:
		return "ongoing"
	default:
		return "unknown"
	}
}

// ============================================================================
//                              LinkClass - 链路类别
// ============================================================================

// LinkClass 链路的路由类别
//
// 由发布方提供的分类谓词判定，用于路由策略：
// 当关闭"客户端互routing"开关时，转发面不会把来自客户端链路的帧
// 转发到另一条客户端链路。
type LinkClass uint8

const (
	// LinkClassUnknown 未分类链路
	LinkClassUnknown LinkClass = iota
	// LinkClassNetwork 骨干网络链路
	LinkClassNetwork
	// LinkClassClient 客户端链路
	LinkClassClient
)

// String 返回链路类别的字符串表示
func (c LinkClass) String() string {
	switch c {
	case LinkClassNetwork:
		return "network"
	case LinkClassClient:
		return "client"
	default:
		return "unknown"
	}
}
