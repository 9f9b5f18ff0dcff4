// Package validator 提供目标URL的安全校验功能
// 包括协议检查、DNS解析和内网地址拦截，防止SSRF攻击
package validator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// 校验错误分类
// 调用方根据错误类型决定返回给客户端的状态码
var (
	ErrInvalidURL            = errors.New("无效的URL")
	ErrSchemeNotAllowed      = errors.New("不支持的URL协议")
	ErrPrivateNetworkBlocked = errors.New("目标地址指向内部网络，已拦截")
)

// ValidatedTarget 校验通过的目标
// 只代表校验时刻的解析结果是安全的，导航过程中的重定向仍需逐跳复查
type ValidatedTarget struct {
	CanonicalURL string // 规范化后的完整URL
	Hostname     string // 目标主机名，用于生成输出文件名
}

// ValidatorController 目标校验控制器
type ValidatorController struct {
	config   Config
	resolver *net.Resolver // 系统解析器，走hosts文件
	dnsOnly  *net.Resolver // 纯DNS解析器，绕过hosts文件直接查询A/AAAA记录
}

// NewValidatorController 创建新的校验控制器
func NewValidatorController(config Config) *ValidatorController {
	return &ValidatorController{
		config:   config,
		resolver: net.DefaultResolver,
		dnsOnly:  &net.Resolver{PreferGo: true},
	}
}

// Validate 校验候选URL并返回校验结果
// 任意一条解析记录命中内网地址即整体拒绝，防止多记录DNS欺骗
func (vc *ValidatorController) Validate(ctx context.Context, rawURL string) (*ValidatedTarget, error) {
	parsed, err := vc.parseURL(rawURL)
	if err != nil {
		return nil, err
	}

	hostname := parsed.Hostname()

	// 主机名本身是IP字面量时跳过解析，直接作为唯一地址检查
	if ip := net.ParseIP(hostname); ip != nil {
		if err := checkAddresses([]net.IP{ip}); err != nil {
			return nil, err
		}
		return &ValidatedTarget{CanonicalURL: parsed.String(), Hostname: hostname}, nil
	}

	ips, err := vc.resolveAll(ctx, hostname)
	if err != nil {
		return nil, fmt.Errorf("%w: 解析主机名失败 %s: %v", ErrInvalidURL, hostname, err)
	}

	if err := checkAddresses(ips); err != nil {
		return nil, err
	}

	return &ValidatedTarget{CanonicalURL: parsed.String(), Hostname: hostname}, nil
}

// CheckRedirect 重定向复查
// 在导航拦截回调中同步调用，只返回允许/拒绝，不抛出错误
func (vc *ValidatorController) CheckRedirect(rawURL string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), vc.config.ResolveTimeout)
	defer cancel()

	_, err := vc.Validate(ctx, rawURL)
	return err == nil
}

// parseURL 解析并规范化URL
func (vc *ValidatorController) parseURL(rawURL string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	// 无协议视为格式错误，有协议但不在白名单内单独分类
	if parsed.Scheme == "" {
		return nil, fmt.Errorf("%w: 缺少协议", ErrInvalidURL)
	}
	allowed := false
	for _, scheme := range vc.config.AllowedSchemes {
		if parsed.Scheme == scheme {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s", ErrSchemeNotAllowed, parsed.Scheme)
	}

	if parsed.Hostname() == "" {
		return nil, fmt.Errorf("%w: 缺少主机名", ErrInvalidURL)
	}

	// 移除片段并规范化路径
	parsed.Fragment = ""
	if parsed.Path == "" {
		parsed.Path = "/"
	}

	return parsed, nil
}

// resolveAll 通过所有可用路径解析主机名并合并结果
// 系统解析器和纯DNS解析器的结果取并集，任一路径的答案都参与检查
func (vc *ValidatorController) resolveAll(ctx context.Context, hostname string) ([]net.IP, error) {
	resolveCtx, cancel := context.WithTimeout(ctx, vc.config.ResolveTimeout)
	defer cancel()

	seen := make(map[string]bool)
	var all []net.IP

	sysIPs, sysErr := vc.resolver.LookupIP(resolveCtx, "ip", hostname)
	for _, ip := range sysIPs {
		if !seen[ip.String()] {
			seen[ip.String()] = true
			all = append(all, ip)
		}
	}

	dnsIPs, dnsErr := vc.dnsOnly.LookupIP(resolveCtx, "ip", hostname)
	for _, ip := range dnsIPs {
		if !seen[ip.String()] {
			seen[ip.String()] = true
			all = append(all, ip)
		}
	}

	// 两条路径都失败才算解析失败
	if len(all) == 0 {
		if sysErr != nil {
			return nil, sysErr
		}
		return nil, dnsErr
	}

	return all, nil
}

// checkAddresses 检查解析出的地址集合
// 只要有一个地址被拦截就整体失败，不允许挑选"安全"地址继续
func checkAddresses(ips []net.IP) error {
	for _, ip := range ips {
		if isBlockedIP(ip) {
			return fmt.Errorf("%w: %s", ErrPrivateNetworkBlocked, ip.String())
		}
	}
	return nil
}

// isBlockedIP 判断单个地址是否属于禁止访问的范围
func isBlockedIP(ip net.IP) bool {
	// IPv4映射的IPv6地址先还原为内嵌的IPv4再检查
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}

	if ip.IsLoopback() || ip.IsUnspecified() {
		return true
	}

	// RFC1918私有地址和IPv6唯一本地地址(fc00::/7)
	if ip.IsPrivate() {
		return true
	}

	// 链路本地地址：169.254.0.0/16 和 fe80::/10
	// 云平台元数据地址 169.254.169.254 也落在该范围内
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}

	return false
}
