//go:build linux

package socketcan

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
	"golang.org/x/sys/unix"
)

// link is a CAN network interface configured over rtnetlink.
type link struct {
	name  string
	index int
}

func linkByName(name string) (*link, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, err
	}
	return &link{name: iface.Name, index: iface.Index}, nil
}

// linkInfo is what RTM_GETLINK reports about a CAN interface.
type linkInfo struct {
	Name     string
	Up       bool
	Kind     string
	Bitrate  uint32
	CtrlMode unix.CANCtrlMode
	State    uint32
	Berr     unix.CANBusErrorCounters
}

func ifInfo(index int, flags, change uint32) []byte {
	b := make([]byte, unix.SizeofIfInfomsg)
	b[0] = unix.AF_UNSPEC
	binary.NativeEndian.PutUint32(b[4:], uint32(int32(index)))
	binary.NativeEndian.PutUint32(b[8:], flags)
	binary.NativeEndian.PutUint32(b[12:], change)
	return b
}

func (l *link) execute(typ netlink.HeaderType, data []byte) ([]netlink.Message, error) {
	c, err := netlink.Dial(unix.NETLINK_ROUTE, &netlink.Config{})
	if err != nil {
		return nil, fmt.Errorf("dial netlink: %w", err)
	}
	defer c.Close()
	req := netlink.Message{
		Header: netlink.Header{
			Flags: netlink.Request | netlink.Acknowledge,
			Type:  typ,
		},
		Data: data,
	}
	res, err := c.Execute(req)
	if err != nil {
		return nil, err
	}
	if len(res) > 1 {
		return nil, fmt.Errorf("expected 1 message, got %d", len(res))
	}
	return res, nil
}

func (l *link) setUp(up bool) error {
	var flags uint32
	if up {
		flags = unix.IFF_UP
	}
	if _, err := l.execute(unix.RTM_NEWLINK, ifInfo(l.index, flags, unix.IFF_UP)); err != nil {
		return fmt.Errorf("%s: set link up=%v: %w", l.name, up, err)
	}
	return nil
}

// configure sets bit rate and listen-only mode. The link must be down.
func (l *link) configure(bitrate uint32, listenOnly bool) error {
	mode := unix.CANCtrlMode{Mask: unix.CAN_CTRLMODE_LISTENONLY}
	if listenOnly {
		mode.Flags = unix.CAN_CTRLMODE_LISTENONLY
	}
	attrs, err := encodeLinkInfo(bitrate, mode)
	if err != nil {
		return err
	}
	if _, err := l.execute(unix.RTM_NEWLINK, append(ifInfo(l.index, 0, 0), attrs...)); err != nil {
		return fmt.Errorf("%s: configure bitrate %d: %w", l.name, bitrate, err)
	}
	return nil
}

func (l *link) info() (linkInfo, error) {
	res, err := l.execute(unix.RTM_GETLINK, ifInfo(l.index, 0, 0))
	if err != nil {
		return linkInfo{}, fmt.Errorf("%s: get link: %w", l.name, err)
	}
	if len(res) == 0 {
		return linkInfo{}, fmt.Errorf("%s: get link: empty reply", l.name)
	}
	return decodeLinkInfo(res[0].Data)
}

func encodeLinkInfo(bitrate uint32, mode unix.CANCtrlMode) ([]byte, error) {
	ae := netlink.NewAttributeEncoder()
	ae.Nested(unix.IFLA_LINKINFO, func(nae *netlink.AttributeEncoder) error {
		nae.String(unix.IFLA_INFO_KIND, "can")
		nae.Nested(unix.IFLA_INFO_DATA, func(d *netlink.AttributeEncoder) error {
			if bitrate != 0 {
				bt := make([]byte, 32)
				nlenc.PutUint32(bt[0:4], bitrate)
				d.Bytes(unix.IFLA_CAN_BITTIMING, bt)
			}
			cm := make([]byte, 8)
			nlenc.PutUint32(cm[0:4], mode.Mask)
			nlenc.PutUint32(cm[4:8], mode.Flags)
			d.Bytes(unix.IFLA_CAN_CTRLMODE, cm)
			return nil
		})
		return nil
	})
	return ae.Encode()
}

func decodeLinkInfo(b []byte) (linkInfo, error) {
	var li linkInfo
	if len(b) < unix.SizeofIfInfomsg {
		return li, fmt.Errorf("short ifinfomsg: %d bytes", len(b))
	}
	if typ := nlenc.Uint16(b[2:4]); typ != unix.ARPHRD_CAN {
		return li, fmt.Errorf("not a CAN interface (type %d)", typ)
	}
	li.Up = nlenc.Uint32(b[8:12])&unix.IFF_UP != 0
	ad, err := netlink.NewAttributeDecoder(b[unix.SizeofIfInfomsg:])
	if err != nil {
		return li, err
	}
	for ad.Next() {
		switch ad.Type() {
		case unix.IFLA_IFNAME:
			li.Name = ad.String()
		case unix.IFLA_LINKINFO:
			ad.Nested(li.decodeLinkInfo)
		}
	}
	return li, ad.Err()
}

func (li *linkInfo) decodeLinkInfo(ad *netlink.AttributeDecoder) error {
	for ad.Next() {
		switch ad.Type() {
		case unix.IFLA_INFO_KIND:
			li.Kind = ad.String()
		case unix.IFLA_INFO_DATA:
			ad.Nested(li.decodeCANData)
		}
	}
	return nil
}

func (li *linkInfo) decodeCANData(ad *netlink.AttributeDecoder) error {
	for ad.Next() {
		b := ad.Bytes()
		switch ad.Type() {
		case unix.IFLA_CAN_BITTIMING:
			if len(b) >= 4 {
				li.Bitrate = nlenc.Uint32(b[0:4])
			}
		case unix.IFLA_CAN_CTRLMODE:
			if len(b) >= 8 {
				li.CtrlMode.Mask = nlenc.Uint32(b[0:4])
				li.CtrlMode.Flags = nlenc.Uint32(b[4:8])
			}
		case unix.IFLA_CAN_STATE:
			if len(b) >= 4 {
				li.State = nlenc.Uint32(b[0:4])
			}
		case unix.IFLA_CAN_BERR_COUNTER:
			if len(b) >= 4 {
				li.Berr.Txerr = nlenc.Uint16(b[0:2])
				li.Berr.Rxerr = nlenc.Uint16(b[2:4])
			}
		}
	}
	return nil
}

// canInterfaces lists the interfaces that look like CAN links.
func canInterfaces() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, i := range ifaces {
		// CAN links carry no hardware address and a 16 or 72 byte MTU.
		if len(i.HardwareAddr) == 0 && (i.MTU == 16 || i.MTU == 72) {
			out = append(out, i.Name)
		}
	}
	return out, nil
}
